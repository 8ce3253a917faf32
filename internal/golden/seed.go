package golden

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/normalize"
)

// SeedFile is the YAML layout of a golden seed file.
type SeedFile struct {
	Mappings []SeedMapping `yaml:"mappings"`
}

// SeedMapping is one curated entry. Company and Site are raw text and are
// normalized on load. Canonical defaults to Company.
type SeedMapping struct {
	Company          string           `yaml:"company"`
	Site             string           `yaml:"site"`
	Canonical        string           `yaml:"canonical"`
	FormattedAddress string           `yaml:"formatted_address"`
	Lat              float64          `yaml:"lat"`
	Lng              float64          `yaml:"lng"`
	PlaceID          string           `yaml:"place_id"`
	Components       model.Components `yaml:"components"`
	Notes            string           `yaml:"notes"`
}

// LoadSeed reads a seed file and puts every entry into the table.
func (t *Table) LoadSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "golden: read seed %s", path)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, eris.Wrapf(err, "golden: parse seed %s", path)
	}

	for i, sm := range seed.Mappings {
		alias, err := normalize.Normalize(sm.Company, sm.Site)
		if err != nil {
			return i, eris.Wrapf(err, "golden: seed entry %d", i)
		}
		canonical := alias
		if sm.Canonical != "" {
			if canonical, err = normalize.Normalize(sm.Canonical, sm.Site); err != nil {
				return i, eris.Wrapf(err, "golden: seed entry %d canonical", i)
			}
		}
		rec := model.AddressRecord{
			CompanyNameRaw:   sm.Company,
			FormattedAddress: sm.FormattedAddress,
			Latitude:         sm.Lat,
			Longitude:        sm.Lng,
			PlaceID:          sm.PlaceID,
			Components:       sm.Components,
			Notes:            sm.Notes,
		}
		if err := t.Put(ctx, alias, canonical, rec); err != nil {
			return i, err
		}
	}
	return len(seed.Mappings), nil
}
