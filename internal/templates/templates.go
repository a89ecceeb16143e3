// Package templates reads templates and their sections from the template
// service database.
package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// Lookup resolves a template and its sections.
type Lookup interface {
	// Template returns models.ErrNotFound for an unknown id.
	Template(ctx context.Context, id string) (*models.Template, error)
	// Sections returns the template's sections ordered by section order.
	Sections(ctx context.Context, templateID string) ([]models.Section, error)
}

// PostgresLookup reads the templates and sections tables.
type PostgresLookup struct {
	db *pgxpool.Pool
}

// NewPostgresLookup creates a new PostgresLookup.
func NewPostgresLookup(db *pgxpool.Pool) *PostgresLookup {
	return &PostgresLookup{db: db}
}

// Connect opens a pool for the given connection string and checks it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create templates database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach templates database: %w", err)
	}
	return pool, nil
}

// Template retrieves a template by its ID.
func (l *PostgresLookup) Template(ctx context.Context, id string) (*models.Template, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("template %s: %w", id, models.ErrNotFound)
	}

	var tpl models.Template
	err := l.db.QueryRow(ctx,
		`SELECT id::text, name, COALESCE(description, ''), COALESCE(company_id::text, '')
		 FROM templates WHERE id = $1`, id,
	).Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.CompanyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}
	return &tpl, nil
}

// Sections lists the sections of a template.
func (l *PostgresLookup) Sections(ctx context.Context, templateID string) ([]models.Section, error) {
	rows, err := l.db.Query(ctx,
		`SELECT id::text, name, COALESCE(description, ''), template_id::text, html_content, section_order
		 FROM sections WHERE template_id = $1 ORDER BY section_order ASC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections of template %s: %w", templateID, err)
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		var section models.Section
		if err := rows.Scan(&section.ID, &section.Name, &section.Description, &section.TemplateID, &section.HTMLContent, &section.SectionOrder); err != nil {
			return nil, fmt.Errorf("failed to scan section of template %s: %w", templateID, err)
		}
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sections of template %s: %w", templateID, err)
	}
	return sections, nil
}

// Load resolves the template and its sections, failing with
// models.ErrNotFound when either is missing.
func Load(ctx context.Context, lookup Lookup, templateID string) (*models.TemplateSections, error) {
	tpl, err := lookup.Template(ctx, templateID)
	if err != nil {
		return nil, err
	}
	sections, err := lookup.Sections(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("template %s has no sections: %w", tpl.ID, models.ErrNotFound)
	}
	return &models.TemplateSections{Template: *tpl, Sections: sections}, nil
}
