package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"gorm.io/gorm"
)

// NumberingStrategy assigns Number, Sequence and Year to an invoice inside
// the creation transaction. Every variant ends with the same uniqueness
// check; the partial unique index on (owner_id, number) is the backstop.
type NumberingStrategy interface {
	assign(tx *gorm.DB, inv *models.Invoice) error
}

// CustomNumber uses a caller-supplied number.
type CustomNumber struct {
	Number string
}

// ClientSequence draws the next number from the client's counter:
// PREFIX-INITIALS-YEAR-000N.
type ClientSequence struct {
	ClientID uint
	Prefix   string
}

// OwnerSequence numbers invoices without a client per owner and year:
// PREFIX-YEAR-000N.
type OwnerSequence struct {
	Prefix string
}

// StrategyFor picks the strategy for a creation request.
func StrategyFor(number string, clientID *uint, prefix string) NumberingStrategy {
	switch {
	case strings.TrimSpace(number) != "":
		return CustomNumber{Number: strings.TrimSpace(number)}
	case clientID != nil:
		return ClientSequence{ClientID: *clientID, Prefix: prefix}
	default:
		return OwnerSequence{Prefix: prefix}
	}
}

func (s CustomNumber) assign(tx *gorm.DB, inv *models.Invoice) error {
	inv.Number = s.Number
	inv.Year = inv.IssueDate.Year()
	return ensureUnique(tx, inv.OwnerID, inv.Number)
}

func (s ClientSequence) assign(tx *gorm.DB, inv *models.Invoice) error {
	res := tx.Model(&models.Client{}).
		Where("id = ?", s.ClientID).
		UpdateColumn("invoice_counter", gorm.Expr("invoice_counter + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment invoice counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("numbering.ClientSequence", "client not found")
	}
	var c models.Client
	if err := tx.Select("id, name, invoice_counter").First(&c, s.ClientID).Error; err != nil {
		return fmt.Errorf("read invoice counter: %w", err)
	}
	inv.Year = inv.IssueDate.Year()
	inv.Sequence = c.InvoiceCounter
	inv.Number = fmt.Sprintf("%s-%s-%d-%04d", s.Prefix, c.Initials(), inv.Year, c.InvoiceCounter)
	return ensureUnique(tx, inv.OwnerID, inv.Number)
}

func (s OwnerSequence) assign(tx *gorm.DB, inv *models.Invoice) error {
	inv.Year = inv.IssueDate.Year()
	q := tx.Model(&models.Invoice{}).Where("year = ? AND client_id IS NULL", inv.Year)
	q = whereOwner(q, inv.OwnerID)
	var maxSeq int
	if err := q.Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error; err != nil {
		return fmt.Errorf("read owner sequence: %w", err)
	}
	inv.Sequence = maxSeq + 1
	inv.Number = fmt.Sprintf("%s-%d-%04d", s.Prefix, inv.Year, inv.Sequence)
	return ensureUnique(tx, inv.OwnerID, inv.Number)
}

func ensureUnique(tx *gorm.DB, ownerID *uint, number string) error {
	var n int64
	q := whereOwner(tx.Model(&models.Invoice{}), ownerID).Where("number = ?", number)
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("check invoice number: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("numbering", fmt.Sprintf("invoice number %s already exists", number))
	}
	return nil
}

func whereOwner(q *gorm.DB, ownerID *uint) *gorm.DB {
	if ownerID == nil {
		return q.Where("owner_id IS NULL")
	}
	return q.Where("owner_id = ?", *ownerID)
}

// duplicateNumber maps a unique-index violation to a Conflict.
func duplicateNumber(err error, number string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("numbering", fmt.Sprintf("invoice number %s already exists", number))
	}
	return err
}
