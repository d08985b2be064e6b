package dedupe

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-pm/chai/pkg/store"
)

func TestReconcileMergesAcrossEcosystems(t *testing.T) {
	cratesPkg := uuid.New()
	brewPkg := uuid.New()
	homepages := []store.PackageHomepage{
		{PackageID: cratesPkg, Name: "proj", URL: "https://example.com/proj/"},
		{PackageID: brewPkg, Name: "proj-formula", URL: "https://example.com/proj"},
	}

	canons, mappings := Reconcile(map[string]uuid.UUID{}, homepages, log.Default())

	require.Len(t, canons, 1)
	assert.Equal(t, "https://example.com/proj", canons[0].URL)
	assert.Equal(t, "proj", canons[0].Name, "first package observed donates the name")

	require.Len(t, mappings, 2)
	assert.Equal(t, canons[0].ID, mappings[0].CanonID)
	assert.Equal(t, canons[0].ID, mappings[1].CanonID)
}

func TestReconcileReassignsChangedHomepage(t *testing.T) {
	pkg := uuid.New()
	oldCanon := uuid.New()
	current := map[string]uuid.UUID{"https://old.example": oldCanon}

	canons, mappings := Reconcile(current, []store.PackageHomepage{
		{PackageID: pkg, Name: "p", URL: "https://new.example"},
	}, log.Default())

	require.Len(t, canons, 1)
	assert.Equal(t, "https://new.example", canons[0].URL)

	require.Len(t, mappings, 1)
	assert.Equal(t, canons[0].ID, mappings[0].CanonID, "package follows its homepage to the new canon")
	// the old canon stays in `current`; nothing requests its deletion
}

func TestReconcileLatestHomepageWins(t *testing.T) {
	pkg := uuid.New()
	homepages := []store.PackageHomepage{
		{PackageID: pkg, Name: "p", URL: "https://latest.example"},
		{PackageID: pkg, Name: "p", URL: "https://older.example"},
	}

	canons, mappings := Reconcile(map[string]uuid.UUID{}, homepages, log.Default())

	require.Len(t, canons, 1)
	assert.Equal(t, "https://latest.example", canons[0].URL)
	require.Len(t, mappings, 1)
}

func TestReconcileSkipsBadAndMalformedURLs(t *testing.T) {
	homepages := []store.PackageHomepage{
		{PackageID: uuid.New(), Name: "a", URL: "null"},
		{PackageID: uuid.New(), Name: "b", URL: ""},
		{PackageID: uuid.New(), Name: "c", URL: "ftp://example.com/x"},
	}

	canons, mappings := Reconcile(map[string]uuid.UUID{}, homepages, log.Default())

	assert.Empty(t, canons)
	assert.Empty(t, mappings)
}

func TestReconcileExistingCanonReused(t *testing.T) {
	pkg := uuid.New()
	existing := uuid.New()
	current := map[string]uuid.UUID{"https://example.com/proj": existing}

	canons, mappings := Reconcile(current, []store.PackageHomepage{
		{PackageID: pkg, Name: "p", URL: "https://example.com/proj/"},
	}, log.Default())

	assert.Empty(t, canons, "no new canon for a known URL")
	require.Len(t, mappings, 1)
	assert.Equal(t, existing, mappings[0].CanonID)
}

// Applying the reconciliation output and re-running must propose the same
// assignments and no new canons.
func TestReconcileIdempotent(t *testing.T) {
	pkg := uuid.New()
	homepages := []store.PackageHomepage{
		{PackageID: pkg, Name: "p", URL: "https://example.com/proj/"},
	}

	canons, first := Reconcile(map[string]uuid.UUID{}, homepages, log.Default())
	require.Len(t, canons, 1)

	current := map[string]uuid.UUID{canons[0].URL: canons[0].ID}
	again, second := Reconcile(current, homepages, log.Default())

	assert.Empty(t, again)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].CanonID, second[0].CanonID)
}
