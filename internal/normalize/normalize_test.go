package normalize

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

var crawlTime = time.Date(2024, time.June, 5, 14, 30, 0, 0, time.UTC)

func regularRow() crawler.TableRow {
	return crawler.TableRow{
		ColumnName:          "Jane Doe",
		ColumnCertification: "Drupal 9 Grackle - Site Builder",
		ColumnLocation:      "Austin, TX, USA",
		ColumnOrganization:  "acquia inc",
		ColumnAwarded:       "March 03, 2021",
	}
}

func TestNormalizeRegularRow(t *testing.T) {
	t.Parallel()

	orgs, err := NewOrgMap([]OrgRule{{Pattern: "^acquia", Name: "Acquia"}})
	require.NoError(t, err)

	rec, err := Normalize(regularRow(), crawler.VariantRegular, crawlTime, orgs)
	require.NoError(t, err)
	require.Equal(t, crawler.Record{
		Name:               "Jane Doe",
		CertificationRaw:   "Drupal 9 Grackle - Site Builder",
		CertificateName:    "Drupal 9 Grackle",
		CertificateVersion: "Site Builder",
		LocationRaw:        "Austin, TX, USA",
		City:               "Austin",
		State:              "TX",
		Country:            "USA",
		Organization:       "Acquia",
		AwardedDate:        "2021-03-03",
		GUID:               "0ef6b019d1a890b41fdf261381bee236",
		Timestamp:          float64(crawlTime.Unix()),
		Variant:            crawler.VariantRegular,
	}, rec)
}

func TestNormalizeGUIDDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Normalize(regularRow(), crawler.VariantRegular, crawlTime, nil)
	require.NoError(t, err)
	second, err := Normalize(regularRow(), crawler.VariantRegular, crawlTime.Add(72*time.Hour), nil)
	require.NoError(t, err)
	require.Equal(t, first.GUID, second.GUID)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), first.GUID)
}

func TestNormalizeGUIDIgnoresOrganizationAndDate(t *testing.T) {
	t.Parallel()

	row := regularRow()
	a, err := Normalize(row, crawler.VariantRegular, crawlTime, nil)
	require.NoError(t, err)

	row[ColumnOrganization] = "Someone Else"
	row[ColumnAwarded] = "April 1, 2022"
	b, err := Normalize(row, crawler.VariantRegular, crawlTime, nil)
	require.NoError(t, err)
	require.Equal(t, a.GUID, b.GUID)

	row[ColumnLocation] = "Austin, TX, United States"
	c, err := Normalize(row, crawler.VariantRegular, crawlTime, nil)
	require.NoError(t, err)
	require.NotEqual(t, a.GUID, c.GUID)
}

func TestNormalizeGrandMaster(t *testing.T) {
	t.Parallel()

	cases := []struct {
		credential string
		version    string
	}{
		{"Grand Master D7", "D7"},
		{"Grand Master D8", "D8"},
		{"Grand Master - Drupal 7", "D7"},
		{"Grand Master", "D8"},
		{"Grand Master D9", "D8"},
	}
	for _, tc := range cases {
		t.Run(tc.credential, func(t *testing.T) {
			t.Parallel()
			row := crawler.TableRow{
				ColumnName:       "Ada",
				ColumnCredential: tc.credential,
				ColumnLocation:   "Lyon, ARA, France",
			}
			rec, err := Normalize(row, crawler.VariantGrandMaster, crawlTime, nil)
			require.NoError(t, err)
			require.Equal(t, GrandMasterName, rec.CertificateName)
			require.Equal(t, tc.version, rec.CertificateVersion)
			require.Equal(t, tc.credential, rec.CertificationRaw)
			require.Equal(t, GUID("Ada", tc.credential, "Lyon, ARA, France"), rec.GUID)
			require.Equal(t, crawler.VariantGrandMaster, rec.Variant)
		})
	}
}

func TestNormalizeMissingRequiredFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		variant crawler.Variant
		drop    string
	}{
		{"name", crawler.VariantRegular, ColumnName},
		{"location", crawler.VariantRegular, ColumnLocation},
		{"certification", crawler.VariantRegular, ColumnCertification},
		{"credential", crawler.VariantGrandMaster, ColumnCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			row := regularRow()
			row[ColumnCredential] = "Grand Master D8"
			delete(row, tc.drop)
			_, err := Normalize(row, tc.variant, crawlTime, nil)
			var malformed *crawler.MalformedRecordError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			require.Equal(t, tc.drop, malformed.Field)
		})
	}
}

func TestNormalizeUnknownVariant(t *testing.T) {
	t.Parallel()

	_, err := Normalize(regularRow(), crawler.Variant("other"), crawlTime, nil)
	require.ErrorIs(t, err, crawler.ErrUnknownVariant)
}

func TestAwardedDate(t *testing.T) {
	t.Parallel()

	got, err := AwardedDate(crawler.TableRow{ColumnAwarded: "December 31, 1999"}, crawlTime)
	require.NoError(t, err)
	require.Equal(t, "1999-12-31", got)

	got, err = AwardedDate(crawler.TableRow{ColumnAwarded: "March 3, 2021"}, crawlTime)
	require.NoError(t, err)
	require.Equal(t, "2021-03-03", got)

	got, err = AwardedDate(crawler.TableRow{}, crawlTime)
	require.NoError(t, err)
	require.Equal(t, "2024-06-05", got)

	_, err = AwardedDate(crawler.TableRow{ColumnAwarded: "2021-03-03"}, crawlTime)
	var malformed *crawler.MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, ColumnAwarded, malformed.Field)
}

func TestAwardedDateRoundTrips(t *testing.T) {
	t.Parallel()

	start := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 800; d += 13 {
		day := start.AddDate(0, 0, d)
		got, err := AwardedDate(crawler.TableRow{ColumnAwarded: day.Format(AwardedLayout)}, crawlTime)
		require.NoError(t, err)
		parsed, err := time.Parse(isoDate, got)
		require.NoError(t, err)
		require.True(t, parsed.Equal(day), "%s != %s", parsed, day)
	}
}

func TestSplitLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in                   string
		city, state, country string
	}{
		{"Austin, TX, USA", "Austin", "TX", "USA"},
		{"Paris, France", "Paris", "France", ""},
		{"Singapore", "Singapore", "", ""},
		{"Kyiv, Kyiv City, Ukraine, Europe", "Kyiv", "Kyiv City", "Ukraine, Europe"},
	}
	for _, tc := range cases {
		city, state, country := SplitLocation(tc.in)
		require.Equal(t, tc.city, city, tc.in)
		require.Equal(t, tc.state, state, tc.in)
		require.Equal(t, tc.country, country, tc.in)
	}
}

func TestSplitCertification(t *testing.T) {
	t.Parallel()

	name, version := SplitCertification("Acquia Certified Developer")
	require.Equal(t, "Acquia Certified Developer", name)
	require.Empty(t, version)

	name, version = SplitCertification("Acquia Certified Developer - Drupal 8 - Back End")
	require.Equal(t, "Acquia Certified Developer", name)
	require.Equal(t, "Drupal 8 - Back End", version)

	name, version = SplitCertification(" Drupal 9 Grackle -Site Builder ")
	require.Equal(t, "Drupal 9 Grackle", name)
	require.Equal(t, "Site Builder", version)
}
