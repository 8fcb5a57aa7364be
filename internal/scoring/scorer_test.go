package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
)

func idealLead() *model.Lead {
	return &model.Lead{
		Email:              "jane@acme.com",
		VerificationStatus: model.VerificationValid,
		Title:              "CEO",
		Seniority:          "c_suite",
		Phone:              "+1-555-0100",
		LinkedInURL:        "https://linkedin.com/in/jane",
		CompanyName:        "Acme",
		CompanySize:        200,
	}
}

func TestScore_IdealLeadScoresFull(t *testing.T) {
	total, breakdown := Score(idealLead(), DefaultConfig())
	assert.Equal(t, 100, total)
	assert.Equal(t, 25, breakdown[ComponentEmailQuality])
	assert.Equal(t, 25, breakdown[ComponentSeniority])
	assert.Equal(t, 25, breakdown[ComponentCompanyFit])
	assert.Equal(t, 25, breakdown[ComponentDataCompleteness])
}

func TestScore_EmptyLeadScoresLow(t *testing.T) {
	lead := &model.Lead{Email: "nobody@example.com"}
	total, breakdown := Score(lead, DefaultConfig())

	// Unknown verification earns 20% of the email component, "other"
	// seniority earns its floor, everything else is zero.
	assert.Equal(t, 5, breakdown[ComponentEmailQuality])
	assert.Equal(t, 5, breakdown[ComponentSeniority])
	assert.Equal(t, 10, breakdown[ComponentCompanyFit])
	assert.Equal(t, 0, breakdown[ComponentDataCompleteness])
	assert.Equal(t, 20, total)
}

func TestScore_Deterministic(t *testing.T) {
	lead := idealLead()
	cfg := DefaultConfig()

	first, _ := Score(lead, cfg)
	Apply(lead, cfg)
	second, _ := Score(lead, cfg)
	assert.Equal(t, first, second)
	assert.Equal(t, first, lead.Score)
}

func TestScore_EmailQualityTiers(t *testing.T) {
	cfg := DefaultConfig()
	cases := map[model.VerificationStatus]int{
		model.VerificationValid:    25,
		model.VerificationCatchAll: 10,
		model.VerificationUnknown:  5,
		model.VerificationInvalid:  0,
	}
	for status, want := range cases {
		lead := idealLead()
		lead.VerificationStatus = status
		_, breakdown := Score(lead, cfg)
		assert.Equal(t, want, breakdown[ComponentEmailQuality], "status %s", status)
	}
}

func TestScore_CompanySizeOutsideBand(t *testing.T) {
	cfg := DefaultConfig()

	inBand := idealLead()
	_, inBreakdown := Score(inBand, cfg)

	tiny := idealLead()
	tiny.CompanySize = 5
	_, tinyBreakdown := Score(tiny, cfg)

	assert.Less(t, tinyBreakdown[ComponentCompanyFit], inBreakdown[ComponentCompanyFit])
	assert.Positive(t, tinyBreakdown[ComponentCompanyFit], "partial credit below the band")
}

func TestScore_IndustryMatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetIndustries = []string{"software", "fintech"}

	match := idealLead()
	match.CompanyIndustry = "Enterprise Software"
	_, matchBreakdown := Score(match, cfg)

	miss := idealLead()
	miss.CompanyIndustry = "Agriculture"
	_, missBreakdown := Score(miss, cfg)

	assert.Greater(t, matchBreakdown[ComponentCompanyFit], missBreakdown[ComponentCompanyFit])
}

func TestScore_ClampedToScale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{EmailQuality: 60, Seniority: 60, CompanyFit: 60, DataCompleteness: 60}
	cfg.SeniorityScores = map[string]int{"c_suite": 60, "other": 5}

	total, _ := Score(idealLead(), cfg)
	assert.Equal(t, 100, total)
}

func TestClassifySeniority(t *testing.T) {
	cases := []struct {
		seniority string
		title     string
		want      string
	}{
		{"c_suite", "", "c_suite"},
		{"", "Chief Technology Officer", "c_suite"},
		{"", "Co-Founder & CEO", "c_suite"},
		{"", "VP of Sales", "vp"},
		{"", "Senior Vice President", "vp"},
		{"", "Director of Engineering", "director"},
		{"", "Engineering Manager", "manager"},
		{"", "Head of Growth", "manager"},
		{"", "Software Engineer", "other"},
		{"", "", "other"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifySeniority(tc.seniority, tc.title), "seniority=%q title=%q", tc.seniority, tc.title)
	}
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_PartialFileFillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ideal_company_size:
  min: 10
  max: 500
target_industries:
  - software
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, SizeBand{Min: 10, Max: 500}, cfg.IdealCompanySize)
	assert.Equal(t, []string{"software"}, cfg.TargetIndustries)
	// Unspecified sections keep their defaults.
	assert.Equal(t, DefaultConfig().Weights, cfg.Weights)
	assert.Equal(t, DefaultConfig().SeniorityScores, cfg.SeniorityScores)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights: [not a map"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
