package fullscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fipe-crawler/internal/testutil"
	"fipe-crawler/pkg/fipe"
	"fipe-crawler/pkg/ratelimit"
)

func testClientConfig(mock *testutil.MockCatalog) fipe.Config {
	return fipe.Config{
		BaseURL: mock.URL(),
		Timeout: 5 * time.Second,
		Retry:   fipe.RetryConfig{MaxRetries: 0, BackoffBase: time.Millisecond},
	}
}

// setupCars configures one brand with one model and the given year
// options under /cars. Motorcycles and trucks stay unconfigured, so
// their brand listings answer 404 and walk as empty.
func setupCars(mock *testutil.MockCatalog, years int) {
	mock.SetJSON(testutil.BrandsPath("cars"), `[{"code":"59","name":"VW"}]`)
	mock.SetJSON(testutil.ModelsPath("cars", "59"), `[{"code":"5940","name":"Gol"}]`)

	yearsJSON := "["
	for y := 0; y < years; y++ {
		if y > 0 {
			yearsJSON += ","
		}
		yearsJSON += fmt.Sprintf(`{"code":"%d-1","name":"%d Gasolina"}`, 2020+y, 2020+y)
	}
	mock.SetJSON(testutil.YearsPath("cars", "59", "5940"), yearsJSON+"]")

	for y := 0; y < years; y++ {
		yCode := fmt.Sprintf("%d-1", 2020+y)
		mock.SetJSON(testutil.PricePath("cars", "59", "5940", yCode),
			fmt.Sprintf(`{"brand":"VW","model":"Gol","modelYear":%d,"fuel":"Gasolina","fuelAcronym":"G","codeFipe":"004278-1","referenceMonth":"junho de 2024","price":"R$ %d.000,00"}`,
				2020+y, y+1))
	}
}

// setupTwoBrands configures brands b1 and b2 under /cars, each with one
// model m1 carrying year options 2020-1 and 2021-1.
func setupTwoBrands(mock *testutil.MockCatalog) {
	mock.SetJSON(testutil.BrandsPath("cars"),
		`[{"code":"b1","name":"Brand 1"},{"code":"b2","name":"Brand 2"}]`)
	for _, b := range []string{"b1", "b2"} {
		mock.SetJSON(testutil.ModelsPath("cars", b), `[{"code":"m1","name":"Model 1"}]`)
		mock.SetJSON(testutil.YearsPath("cars", b, "m1"),
			`[{"code":"2020-1","name":"2020 Gasolina"},{"code":"2021-1","name":"2021 Gasolina"}]`)
		for _, y := range []string{"2020-1", "2021-1"} {
			mock.SetJSON(testutil.PricePath("cars", b, "m1", y),
				fmt.Sprintf(`{"brand":"%s","model":"Model 1","modelYear":%s,"fuel":"Gasolina","fuelAcronym":"G","codeFipe":"004278-1","referenceMonth":"junho de 2024","price":"R$ 1.000,00"}`,
					b, y[:4]))
		}
	}
}

func readCSV(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestScanCompletesAndClearsCheckpoint(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	setupCars(mock, 2)

	outDir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "full_scan.json")
	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 100,
		Reference:  "308",
		StatePath:  statePath,
	})

	require.NoError(t, scanner.Run(context.Background()))

	lines := readCSV(t, filepath.Join(outDir, "cars.csv"))
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2020-1")
	assert.Contains(t, lines[2], "2021-1")

	// Unconfigured types walk as empty, so no files appear for them.
	_, err := os.Stat(filepath.Join(outDir, "motorcycles.csv"))
	assert.True(t, os.IsNotExist(err))

	// A finished scan leaves no checkpoint behind.
	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestScanPausesWhenBudgetExhausted(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	setupCars(mock, 3)

	outDir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "full_scan.json")

	// Five calls cover brands, models, years and two of the three
	// prices; the third price hits the margin.
	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 5,
		Reference:  "308",
		StatePath:  statePath,
	})

	// Exhaustion is a pause, not a failure.
	require.NoError(t, scanner.Run(context.Background()))

	lines := readCSV(t, filepath.Join(outDir, "cars.csv"))
	require.Len(t, lines, 3, "two rows made it out before the pause")

	cp, err := NewStateManager(statePath).Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, ratelimit.TodayKey(), cp.Date)
	assert.Equal(t, 5, cp.Used)
	assert.Equal(t, 0, cp.TypeIndex)
	assert.Equal(t, 0, cp.BrandIndex)
	assert.Equal(t, 0, cp.ModelIndex)
	assert.Equal(t, 2, cp.YearIndex, "resume position is the unfetched year option")
	assert.Equal(t, "308", cp.Reference)
}

func TestScanResumesFromCheckpoint(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	setupCars(mock, 3)

	outDir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "full_scan.json")
	require.NoError(t, NewStateManager(statePath).Save(&Checkpoint{
		Date:       ratelimit.TodayKey(),
		Used:       5,
		TypeIndex:  0,
		BrandIndex: 0,
		ModelIndex: 0,
		YearIndex:  2,
		Reference:  "308",
		OutDir:     outDir,
	}))

	// Reference comes from the checkpoint, not the config.
	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 100,
		StatePath:  statePath,
	})
	require.NoError(t, scanner.Run(context.Background()))

	// Only the remaining year option is fetched.
	assert.Zero(t, mock.PathCount(testutil.PricePath("cars", "59", "5940", "2020-1")))
	assert.Zero(t, mock.PathCount(testutil.PricePath("cars", "59", "5940", "2021-1")))
	assert.Equal(t, 1, mock.PathCount(testutil.PricePath("cars", "59", "5940", "2022-1")))
	assert.Zero(t, mock.PathCount(testutil.ReferencesPath()), "pinned reference needs no resolution")

	lines := readCSV(t, filepath.Join(outDir, "cars.csv"))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "2022-1")

	_, err := os.Stat(statePath)
	assert.True(t, os.IsNotExist(err), "completed scan clears the checkpoint")
}

func TestScanPauseDuringListingKeepsSiblingIndicesClean(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	setupTwoBrands(mock)

	outDir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "full_scan.json")

	// Six calls walk all of brand b1 (brands, models, years, two
	// prices, then b2's models); b2's year listing hits the margin, so
	// the pause lands between b1's last year and b2's first.
	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 6,
		Reference:  "308",
		StatePath:  statePath,
	})
	require.NoError(t, scanner.Run(context.Background()))

	cp, err := NewStateManager(statePath).Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.TypeIndex)
	assert.Equal(t, 1, cp.BrandIndex)
	assert.Equal(t, 0, cp.ModelIndex)
	assert.Equal(t, 0, cp.YearIndex, "b1's year position must not leak into b2's checkpoint")

	// The resumed run walks all of b2, including its first year option.
	scanner = NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 100,
		Reference:  "308",
		StatePath:  statePath,
	})
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, 1, mock.PathCount(testutil.PricePath("cars", "b2", "m1", "2020-1")))
	assert.Equal(t, 1, mock.PathCount(testutil.PricePath("cars", "b2", "m1", "2021-1")))
	assert.Equal(t, 1, mock.PathCount(testutil.PricePath("cars", "b1", "m1", "2020-1")),
		"b1's rows are not re-fetched")

	lines := readCSV(t, filepath.Join(outDir, "cars.csv"))
	require.Len(t, lines, 5)

	_, err = os.Stat(statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestScanResetsUsedOnNewDay(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	setupCars(mock, 1)

	outDir := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "full_scan.json")
	require.NoError(t, NewStateManager(statePath).Save(&Checkpoint{
		Date:      "2000-01-01",
		Used:      499,
		Reference: "308",
		OutDir:    outDir,
	}))

	// 499 carried-over calls would exhaust this budget immediately; a
	// stale date resets the counter instead.
	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     outDir,
		DailyLimit: 500,
		StatePath:  statePath,
	})
	require.NoError(t, scanner.Run(context.Background()))

	lines := readCSV(t, filepath.Join(outDir, "cars.csv"))
	require.Len(t, lines, 2)

	_, err := os.Stat(statePath)
	assert.True(t, os.IsNotExist(err))
}

func TestScanAbortsOnUnauthorized(t *testing.T) {
	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetResponse(testutil.BrandsPath("cars"), testutil.MockResponse{
		StatusCode: 401,
		Body:       `{"error": "invalid token"}`,
	})

	scanner := NewScanner(testClientConfig(mock), Config{
		OutDir:     t.TempDir(),
		DailyLimit: 100,
		Reference:  "308",
		StatePath:  filepath.Join(t.TempDir(), "full_scan.json"),
	})

	err := scanner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, fipe.IsUnauthorized(err))
}
