package models

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the struct tags of a payload and wraps failures in
// common.ErrValidation.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}

// ValidateRecord decodes and validates the payload of a record being written.
// Deletions carry no payload and are not checked.
func ValidateRecord(r Record, deleting bool) error {
	if !r.Type.IsRecordType() {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, r.Type)
	}
	if r.ID == "" || r.CoupleID == "" {
		return fmt.Errorf("%w: record id and couple id are required", common.ErrValidation)
	}
	if deleting {
		return nil
	}
	var (
		v   any
		err error
	)
	switch r.Type {
	case EntityJournalEntry:
		v, err = DecodeJournalEntry(r)
	case EntityMemory:
		v, err = DecodeMemory(r)
	case EntityLovePing:
		v, err = DecodeLovePing(r)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return Validate(v)
}
