package templates

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

const schema = `
CREATE TABLE templates (
	id UUID PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT,
	company_id UUID NOT NULL
);
CREATE TABLE sections (
	id UUID PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT,
	template_id UUID NOT NULL REFERENCES templates(id),
	html_content TEXT NOT NULL,
	section_order INT NOT NULL
);`

func TestPostgresLookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("templates"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	lookup := NewPostgresLookup(pool)
	tplID := uuid.NewString()
	emptyID := uuid.NewString()
	seed(t, pool, tplID, emptyID)

	t.Run("template", func(t *testing.T) {
		tpl, err := lookup.Template(ctx, tplID)
		require.NoError(t, err)
		assert.Equal(t, tplID, tpl.ID)
		assert.Equal(t, "Contrato", tpl.Name)
		assert.Equal(t, "", tpl.Description)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := lookup.Template(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = lookup.Template(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("sections are ordered", func(t *testing.T) {
		sections, err := lookup.Sections(ctx, tplID)
		require.NoError(t, err)
		require.Len(t, sections, 2)
		assert.Equal(t, "Hello #NAME#", sections[0].HTMLContent)
		assert.Equal(t, 1, sections[0].SectionOrder)
		assert.Equal(t, "Bye #NAME#", sections[1].HTMLContent)
		assert.Equal(t, tplID, sections[1].TemplateID)
	})

	t.Run("load", func(t *testing.T) {
		loaded, err := Load(ctx, lookup, tplID)
		require.NoError(t, err)
		assert.Equal(t, tplID, loaded.Template.ID)
		assert.Len(t, loaded.Sections, 2)

		_, err = Load(ctx, lookup, emptyID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func seed(t *testing.T, pool *pgxpool.Pool, tplID, emptyID string) {
	t.Helper()
	ctx := context.Background()
	company := uuid.NewString()

	_, err := pool.Exec(ctx, "INSERT INTO templates (id, name, description, company_id) VALUES ($1, $2, NULL, $3), ($4, $5, $6, $3)",
		tplID, "Contrato", company, emptyID, "Vazio", "sem seções")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "INSERT INTO sections (id, name, description, template_id, html_content, section_order) VALUES ($1, 'b', NULL, $2, 'Bye #NAME#', 2), ($3, 'a', 'first', $2, 'Hello #NAME#', 1)",
		uuid.NewString(), tplID, uuid.NewString())
	require.NoError(t, err)
}

type staticLookup struct {
	templates map[string]models.Template
	sections  map[string][]models.Section
}

func (l staticLookup) Template(ctx context.Context, id string) (*models.Template, error) {
	tpl, ok := l.templates[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &tpl, nil
}

func (l staticLookup) Sections(ctx context.Context, templateID string) ([]models.Section, error) {
	return l.sections[templateID], nil
}

func TestLoad(t *testing.T) {
	lookup := staticLookup{
		templates: map[string]models.Template{
			"T1": {ID: "T1", Name: "Contrato"},
			"T2": {ID: "T2", Name: "Vazio"},
		},
		sections: map[string][]models.Section{
			"T1": {{ID: "S1", TemplateID: "T1", HTMLContent: "Hello #NAME#", SectionOrder: 1}},
		},
	}
	ctx := context.Background()

	loaded, err := Load(ctx, lookup, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Contrato", loaded.Template.Name)
	assert.Len(t, loaded.Sections, 1)

	_, err = Load(ctx, lookup, "T2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = Load(ctx, lookup, "T3")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
