package seed

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"grocerybot/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db)
	require.NoError(t, s.Migrate())
	return s
}

type memSource struct {
	data []byte
	err  error
}

func (m *memSource) Load(context.Context) ([]byte, error) {
	return m.data, m.err
}

const seedDoc = `{
	"recipes": [
		{
			"name": "Bean Chili",
			"cuisine": "tex-mex",
			"tags": ["weeknight"],
			"ingredients": [
				{"name": "black beans", "quantity": 2, "unit": "can"},
				{"name": "cumin", "optional": true}
			]
		}
	],
	"pantry": [
		{"name": "rice", "quantity": 5, "unit": "lb"},
		{"name": "cumin"}
	]
}`

func TestApplySeedsRecipesAndPantry(t *testing.T) {
	st := newTestStore(t)

	err := Apply(context.Background(), st, &memSource{data: []byte(seedDoc)}, nil)
	require.NoError(t, err)

	recipe, err := st.FindRecipeByName("Bean Chili")
	require.NoError(t, err)
	assert.Equal(t, "tex-mex", recipe.Cuisine)

	lines, err := st.RecipeIngredients(recipe.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	items, err := st.PantryItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestApplyIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{data: []byte(seedDoc)}

	require.NoError(t, Apply(context.Background(), st, src, nil))
	require.NoError(t, Apply(context.Background(), st, src, nil))

	recipes, err := st.SearchRecipes("", "", "")
	require.NoError(t, err)
	assert.Len(t, recipes, 1)

	items, err := st.PantryItems()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestApplyRejectsBadJSON(t *testing.T) {
	st := newTestStore(t)
	err := Apply(context.Background(), st, &memSource{data: []byte("not json")}, nil)
	require.Error(t, err)
}

type fakeS3 struct {
	body string
	err  error
}

func (f *fakeS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(f.body))}, nil
}

func TestS3SourceLoad(t *testing.T) {
	src := NewS3Source(&fakeS3{body: seedDoc}, "grocerybot-seed", "seed.json")
	raw, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Bean Chili")

	failing := NewS3Source(&fakeS3{err: assert.AnError}, "grocerybot-seed", "seed.json")
	_, err = failing.Load(context.Background())
	require.Error(t, err)
}
