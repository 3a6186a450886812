package service

import (
	"math"
	"sort"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

// ComputeIntelligenceProfile averages graded submissions per domain. Tags
// come from the assignment, else from the course subject, else the
// submission is skipped. Every domain is present in the result, highest
// score first with ties in taxonomy order.
func ComputeIntelligenceProfile(submissions []models.GradedSubmission) []models.IntelligenceScore {
	type bucket struct {
		total float64
		count int
	}
	buckets := make(map[models.IntelligenceDomain]*bucket, len(models.IntelligenceDomains))
	for _, domain := range models.IntelligenceDomains {
		buckets[domain] = &bucket{}
	}

	for _, sub := range submissions {
		for _, domain := range resolveDomains(sub.AssignmentTypes, sub.SubjectTypes) {
			b, ok := buckets[domain]
			if !ok {
				continue
			}
			b.total += sub.Grade
			b.count++
		}
	}

	profile := make([]models.IntelligenceScore, 0, len(models.IntelligenceDomains))
	for _, domain := range models.IntelligenceDomains {
		b := buckets[domain]
		score := 0
		if b.count > 0 {
			score = int(math.Round(b.total / float64(b.count)))
		}
		profile = append(profile, models.IntelligenceScore{Domain: domain, Score: score, Count: b.count})
	}
	sort.SliceStable(profile, func(i, j int) bool {
		return profile[i].Score > profile[j].Score
	})
	return profile
}

// resolveDomains prefers the assignment's own tags over the subject's.
func resolveDomains(assignmentTags, subjectTags []string) []models.IntelligenceDomain {
	tags := assignmentTags
	if len(tags) == 0 {
		tags = subjectTags
	}
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[models.IntelligenceDomain]struct{}, len(tags))
	domains := make([]models.IntelligenceDomain, 0, len(tags))
	for _, tag := range tags {
		domain := models.IntelligenceDomain(tag)
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}
		domains = append(domains, domain)
	}
	return domains
}
