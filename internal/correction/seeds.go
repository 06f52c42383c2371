package correction

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lawdoc-cli/internal/model"
)

// SeedFile is the YAML layout of a correction seed file:
//
//	words: [ministère, république, promulgue]
//	corrections:
//	  - token: artic1e
//	    replacement: article
type SeedFile struct {
	Words       []string                `yaml:"words"`
	Corrections []model.CorrectionEntry `yaml:"corrections"`
}

// LoadSeeds reads a seed file from disk.
func LoadSeeds(path string) ([]model.CorrectionEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "correction: read seeds %s", path)
	}
	return ParseSeeds(data)
}

// ParseSeeds decodes seed YAML into reviewed correction entries. Known-good
// words become entries that map to themselves.
func ParseSeeds(data []byte) ([]model.CorrectionEntry, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "correction: parse seeds")
	}

	out := make([]model.CorrectionEntry, 0, len(f.Words)+len(f.Corrections))
	for _, w := range f.Words {
		e := model.NormalizeCorrection(model.CorrectionEntry{Token: w, Replacement: w})
		if e.Token == "" {
			continue
		}
		out = append(out, e)
	}
	for i, c := range f.Corrections {
		if c.Origin == "" {
			c.Origin = model.CorrectionReviewed
		}
		e := model.NormalizeCorrection(c)
		if e.Token == "" || e.Replacement == "" {
			return nil, eris.Errorf("correction: seed correction %d: token and replacement are required", i)
		}
		out = append(out, e)
	}
	return out, nil
}
