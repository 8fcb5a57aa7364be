// Package scoring grades leads 0-100 from their accumulated record. The
// scorer is a pure function of the lead and the config: no I/O, no hidden
// state, so rescoring is idempotent.
//
// Components (default cap 25 points each):
//   - email quality: valid=full, catch-all=40%, unknown=20%, invalid=0
//   - seniority: keyword-classified from the seniority/title fields
//   - company fit: headcount inside the ideal band plus industry match
//   - data completeness: phone, LinkedIn, company, title present
package scoring

import (
	"strings"

	"github.com/sells-group/leadpipe/internal/model"
)

// Component names used as breakdown keys.
const (
	ComponentEmailQuality     = "email_quality"
	ComponentSeniority        = "seniority"
	ComponentCompanyFit       = "company_fit"
	ComponentDataCompleteness = "data_completeness"
)

// seniorityKeywords maps seniority level to the phrases that indicate it.
// Order matters: the first matching level wins.
var seniorityKeywords = []struct {
	level    string
	keywords []string
}{
	{"c_suite", []string{"c-suite", "c-level", "ceo", "cto", "cfo", "coo", "cmo", "cio", "chief", "founder", "co-founder", "owner"}},
	{"vp", []string{"vp", "vice president", "vice-president", "svp", "evp"}},
	{"director", []string{"director"}},
	{"manager", []string{"manager", "head of", "lead", "senior manager", "team lead"}},
}

// ClassifySeniority buckets a lead's seniority level from its seniority
// field and job title.
func ClassifySeniority(seniority, title string) string {
	text := strings.ToLower(seniority)
	if title != "" {
		text += " " + strings.ToLower(title)
	}
	if strings.TrimSpace(text) == "" {
		return "other"
	}
	for _, entry := range seniorityKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.level
			}
		}
	}
	return "other"
}

// Score grades one lead. Returns the clamped 0-100 total and the per
// component breakdown. Calling it twice on the same record yields the same
// result.
func Score(lead *model.Lead, cfg Config) (int, map[string]int) {
	breakdown := make(map[string]int, 4)

	breakdown[ComponentEmailQuality] = emailQuality(lead, cfg.Weights.EmailQuality)
	breakdown[ComponentSeniority] = seniorityPoints(lead, cfg)
	breakdown[ComponentCompanyFit] = companyFit(lead, cfg)
	breakdown[ComponentDataCompleteness] = completeness(lead, cfg.Weights.DataCompleteness)

	total := 0
	for _, pts := range breakdown {
		total += pts
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return total, breakdown
}

// Apply scores a lead and writes the result onto its record, touching only
// the scoring fields.
func Apply(lead *model.Lead, cfg Config) {
	total, breakdown := Score(lead, cfg)
	lead.Score = total
	lead.ScoreBreakdown = breakdown
}

func emailQuality(lead *model.Lead, maxPts int) int {
	switch lead.VerificationStatus {
	case model.VerificationValid:
		return maxPts
	case model.VerificationCatchAll:
		return int(float64(maxPts) * 0.4)
	case model.VerificationUnknown, "":
		return int(float64(maxPts) * 0.2)
	default: // invalid, spamtrap, abuse, do_not_mail
		return 0
	}
}

func seniorityPoints(lead *model.Lead, cfg Config) int {
	level := ClassifySeniority(lead.Seniority, lead.Title)
	pts, ok := cfg.SeniorityScores[level]
	if !ok {
		pts = cfg.SeniorityScores["other"]
	}
	if pts > cfg.Weights.Seniority {
		pts = cfg.Weights.Seniority
	}
	return pts
}

func companyFit(lead *model.Lead, cfg Config) int {
	maxPts := cfg.Weights.CompanyFit
	score := 0

	// Headcount fit: up to 60% of the component.
	if lead.CompanySize > 0 {
		band := cfg.IdealCompanySize
		if lead.CompanySize >= band.Min && lead.CompanySize <= band.Max {
			score += int(float64(maxPts) * 0.6)
		} else {
			// Partial credit: closer to the band earns more.
			var ratio float64
			if lead.CompanySize < band.Min {
				ratio = float64(lead.CompanySize) / float64(band.Min)
			} else {
				ratio = float64(band.Max) / float64(lead.CompanySize)
			}
			if ratio < 0.2 {
				ratio = 0.2
			}
			score += int(float64(maxPts) * 0.6 * ratio)
		}
	}

	// Industry match: up to 40% of the component. With no targets
	// configured, everyone gets the industry points.
	if len(cfg.TargetIndustries) == 0 {
		score += int(float64(maxPts) * 0.4)
	} else if lead.CompanyIndustry != "" {
		industry := strings.ToLower(lead.CompanyIndustry)
		for _, target := range cfg.TargetIndustries {
			if strings.Contains(industry, strings.ToLower(target)) {
				score += int(float64(maxPts) * 0.4)
				break
			}
		}
	}

	if score > maxPts {
		score = maxPts
	}
	return score
}

// Completeness sub-weights, expressed as fractions of a 25-point component.
func completeness(lead *model.Lead, maxPts int) int {
	score := 0
	if lead.Phone != "" {
		score += maxPts * 8 / 25
	}
	if lead.LinkedInURL != "" {
		score += maxPts * 8 / 25
	}
	if lead.CompanyName != "" {
		score += maxPts * 5 / 25
	}
	if lead.Title != "" {
		score += maxPts * 4 / 25
	}
	if score > maxPts {
		score = maxPts
	}
	return score
}
