package storage

import (
	"context"
	_ "embed"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	ErrStatusExists   = errors.New("pad status already exists")
	ErrStatusNotFound = errors.New("pad status not found")
)

//go:embed schema.sql
var schemaSQL string

// StatusStore persists one PadStatus per pad code.
type StatusStore interface {
	EnsureSchema(ctx context.Context) error
	// InsertStatus creates the record, or returns ErrStatusExists.
	InsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error
	// UpdateStatus applies upd, or returns ErrStatusNotFound.
	UpdateStatus(ctx context.Context, padCode string, upd StatusUpdate) error
	// UpsertStatus inserts the record and falls back to an update when it
	// already exists.
	UpsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error
	GetStatus(ctx context.Context, padCode string) (*PadStatus, error)
	ListStatuses(ctx context.Context) ([]PadStatus, error)
	DeleteStatus(ctx context.Context, padCode string) error
	Close()
}

// Statements are written with $n placeholders and shared by both drivers.
const (
	statusColumns = `pad_code, current_status, template_id, country, code, proxy, time_zone, language,
		latitude, longitude, run_count, success_count, error_count,
		phone_number_counts, forward_num, secondary_email_num, created_at, updated_at`

	insertStatusSQL = `
		INSERT INTO pad_status (` + statusColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		ON CONFLICT (pad_code) DO NOTHING`

	updateStatusSQL = `
		UPDATE pad_status SET
			current_status      = COALESCE($2, current_status),
			template_id         = COALESCE($3, template_id),
			country             = COALESCE($4, country),
			code                = COALESCE($5, code),
			proxy               = COALESCE($6, proxy),
			time_zone           = COALESCE($7, time_zone),
			language            = COALESCE($8, language),
			latitude            = COALESCE($9, latitude),
			longitude           = COALESCE($10, longitude),
			run_count           = run_count + $11,
			success_count       = success_count + $12,
			error_count         = error_count + $13,
			phone_number_counts = COALESCE($14, phone_number_counts),
			forward_num         = COALESCE($15, forward_num),
			secondary_email_num = COALESCE($16, secondary_email_num),
			updated_at          = $17
		WHERE pad_code = $1`

	selectStatusSQL = `SELECT ` + statusColumns + ` FROM pad_status WHERE pad_code = $1`

	listStatusSQL = `SELECT ` + statusColumns + ` FROM pad_status ORDER BY updated_at DESC, pad_code`

	deleteStatusSQL = `DELETE FROM pad_status WHERE pad_code = $1`
)

// updateArgs flattens upd into the $1..$17 arguments of updateStatusSQL.
func updateArgs(padCode string, upd StatusUpdate, now time.Time) []any {
	var country, code, proxy, tz, lang *string
	var lat, lon *float64
	if l := upd.Locale; l != nil {
		country, code, proxy, tz, lang = &l.Country, &l.Code, &l.Proxy, &l.TimeZone, &l.Language
		lat, lon = &l.Latitude, &l.Longitude
	}
	return []any{
		padCode, upd.Status, upd.TemplateID,
		country, code, proxy, tz, lang, lat, lon,
		upd.RunDelta, upd.SuccessDelta, upd.ErrorDelta,
		upd.PhoneNumberCounts, upd.ForwardNum, upd.SecondaryEmailNum,
		now,
	}
}

// insertArgs is updateArgs with nil fields replaced by zero values.
func insertArgs(padCode string, upd StatusUpdate, now time.Time) []any {
	rec := PadStatus{PadCode: padCode}
	rec.apply(upd)
	return []any{
		rec.PadCode, rec.CurrentStatus, rec.TemplateID,
		rec.Locale.Country, rec.Locale.Code, rec.Locale.Proxy, rec.Locale.TimeZone, rec.Locale.Language,
		rec.Locale.Latitude, rec.Locale.Longitude,
		rec.RunCount, rec.SuccessCount, rec.ErrorCount,
		rec.PhoneNumberCounts, rec.ForwardNum, rec.SecondaryEmailNum,
		now,
	}
}

// apply merges upd into s the same way updateStatusSQL does.
func (s *PadStatus) apply(upd StatusUpdate) {
	if upd.Status != nil {
		s.CurrentStatus = *upd.Status
	}
	if upd.TemplateID != nil {
		s.TemplateID = *upd.TemplateID
	}
	if upd.Locale != nil {
		s.Locale = *upd.Locale
	}
	s.RunCount += upd.RunDelta
	s.SuccessCount += upd.SuccessDelta
	s.ErrorCount += upd.ErrorDelta
	if upd.PhoneNumberCounts != nil {
		s.PhoneNumberCounts = *upd.PhoneNumberCounts
	}
	if upd.ForwardNum != nil {
		s.ForwardNum = *upd.ForwardNum
	}
	if upd.SecondaryEmailNum != nil {
		s.SecondaryEmailNum = *upd.SecondaryEmailNum
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*PadStatus, error) {
	var s PadStatus
	err := row.Scan(
		&s.PadCode, &s.CurrentStatus, &s.TemplateID,
		&s.Locale.Country, &s.Locale.Code, &s.Locale.Proxy, &s.Locale.TimeZone, &s.Locale.Language,
		&s.Locale.Latitude, &s.Locale.Longitude,
		&s.RunCount, &s.SuccessCount, &s.ErrorCount,
		&s.PhoneNumberCounts, &s.ForwardNum, &s.SecondaryEmailNum,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func schemaStatements() []string {
	var stmts []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// rebindSQLite turns $n into SQLite's numbered ?n parameters.
func rebindSQLite(query string) string {
	return dollarParam.ReplaceAllString(query, "?$1")
}

// upsert is the shared insert-or-update used by both stores.
func upsert(ctx context.Context, s StatusStore, padCode string, upd StatusUpdate) error {
	err := s.InsertStatus(ctx, padCode, upd)
	if errors.Is(err, ErrStatusExists) {
		return s.UpdateStatus(ctx, padCode, upd)
	}
	return err
}
