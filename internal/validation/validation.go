package validation

import (
	"fmt"
	"strings"
	"unicode"

	"zapcast/internal/errors"
	"zapcast/internal/models"
)

const (
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxCampaignNameLen   = 120
	MaxContentLength     = 4096
)

// ValidatePhoneNumber validates phone number format and length
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeValidationFailed, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < MinPhoneNumberLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("phone number must be at least %d digits", MinPhoneNumberLength))
	}
	if len(cleaned) > MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("phone number too long (max %d digits)", MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeValidationFailed, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateCampaignName validates campaign name format and length
func ValidateCampaignName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.ErrCodeValidationFailed, "campaign name cannot be empty")
	}
	if len(name) > MaxCampaignNameLen {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("campaign name too long (max %d characters)", MaxCampaignNameLen))
	}
	return nil
}

// ValidateContent validates message content format and length
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New(errors.ErrCodeValidationFailed, "message content cannot be empty")
	}
	if len(content) > MaxContentLength {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("message content too long (max %d characters)", MaxContentLength))
	}
	for _, char := range content {
		if char == '\x00' {
			return errors.New(errors.ErrCodeValidationFailed, "message content contains invalid characters")
		}
	}
	return nil
}

// ValidatePriority validates a campaign priority value
func ValidatePriority(p models.CampaignPriority) error {
	if !p.Valid() {
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("invalid priority %q (must be high, medium, or low)", p))
	}
	return nil
}

// ValidateContactFilter rejects filters that refer to malformed numbers.
func ValidateContactFilter(f models.ContactFilter) error {
	for _, num := range f.ExcludeNumbers {
		if err := ValidatePhoneNumber(num); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidationFailed,
				fmt.Sprintf("invalid excluded number %q", num))
		}
	}
	return nil
}

// ValidateManualContacts rejects manual overrides with malformed numbers.
func ValidateManualContacts(contacts []models.ManualContact) error {
	for _, c := range contacts {
		if err := ValidatePhoneNumber(c.PhoneNumber); err != nil {
			return err
		}
	}
	return nil
}
