package qualify

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

type Bucket string

const (
	LikelyValid   Bucket = "likely_valid"
	Suspicious    Bucket = "suspicious"
	LikelyInvalid Bucket = "likely_invalid"
)

var standardFormat = regexp.MustCompile(`^[a-z]+\.[a-z]+$`)

type ScoreResult struct {
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Company string   `json:"company,omitempty"`
	Score   int      `json:"score"`
	Bucket  Bucket   `json:"status"`
	Issues  []string `json:"issues,omitempty"`
}

func BucketFor(score int) Bucket {
	switch {
	case score >= 70:
		return LikelyValid
	case score >= 40:
		return Suspicious
	default:
		return LikelyInvalid
	}
}

// Score rates how likely email is a real personal mailbox, from 0 to 100.
func Score(email string, rules *Rules) ScoreResult {
	w := rules.Weights()
	raw := strings.TrimSpace(email)
	local, domain, _ := strings.Cut(strings.ToLower(raw), "@")

	var issues []string
	score := 100

	if p, ok := rules.blockedPrefix(local); ok {
		issues = append(issues, "suspicious prefix: "+p)
		score += w.BadPrefix
	}
	if s, ok := rules.badSuffix(local); ok {
		issues = append(issues, "title suffix: "+s)
		score += w.BadSuffix
	}
	if l, ok := rules.locationToken(Tokens(local)); ok {
		issues = append(issues, "contains location name: "+l)
		score += w.Location
	}
	if rules.isGenericMailbox(local) {
		issues = append(issues, "generic mailbox")
		score += w.GenericMailbox
	}
	if t, ok := rules.titleIn(local); ok {
		issues = append(issues, "contains job title: "+t)
		score += w.TitleInAddress
	}
	if len(issues) == 0 && standardFormat.MatchString(local) {
		score += w.StandardFormat
	}
	if rules.IsCorporate(domain) {
		score += w.CorporateDomain
	}
	if _, err := ParseAddress(raw); err != nil {
		issues = append(issues, "invalid format: "+err.Error())
		score += w.InvalidFormat
	}

	score = max(0, min(100, score))
	return ScoreResult{
		Email:  raw,
		Score:  score,
		Bucket: BucketFor(score),
		Issues: issues,
	}
}

type ReportSummary struct {
	LikelyValid     int `json:"likely_valid"`
	Suspicious      int `json:"suspicious"`
	LikelyInvalid   int `json:"likely_invalid"`
	ValidPercentage int `json:"validPercentage"`
}

// Report is the verification report of a recipient list, worst scores first.
type Report struct {
	CampaignID      string        `json:"campaignId,omitempty"`
	CampaignName    string        `json:"campaignName,omitempty"`
	TotalRecipients int           `json:"totalRecipients"`
	Summary         ReportSummary `json:"summary"`
	Results         []ScoreResult `json:"results"`
}

func BuildReport(recipients []state.Recipient, rules *Rules) Report {
	results := make([]ScoreResult, 0, len(recipients))
	var summary ReportSummary
	for _, r := range recipients {
		res := Score(r.Email, rules)
		res.Name = r.Name
		res.Company = r.Company
		switch res.Bucket {
		case LikelyValid:
			summary.LikelyValid++
		case Suspicious:
			summary.Suspicious++
		default:
			summary.LikelyInvalid++
		}
		results = append(results, res)
	}
	slices.SortStableFunc(results, func(a, b ScoreResult) int { return a.Score - b.Score })
	if len(recipients) > 0 {
		summary.ValidPercentage = int(math.Round(float64(summary.LikelyValid) * 100 / float64(len(recipients))))
	}
	return Report{
		TotalRecipients: len(recipients),
		Summary:         summary,
		Results:         results,
	}
}

// CampaignReport scores every recipient of c.
func CampaignReport(c state.Campaign, rules *Rules) Report {
	rep := BuildReport(c.Recipients, rules)
	rep.CampaignID = c.ID
	rep.CampaignName = c.Name
	return rep
}

func (r ScoreResult) String() string {
	return fmt.Sprintf("%3d %-14s %s", r.Score, r.Bucket, r.Email)
}
