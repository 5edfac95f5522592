// Package grouping clusters stored records into trend groups and writes the labels
// back in one store mutation.
package grouping

import (
	"context"
	"fmt"
	"sort"

	"tracklight/internal/analysis"
	"tracklight/internal/logger"
	"tracklight/internal/models"
	"tracklight/internal/store"
)

// Result describes one grouping pass.
type Result struct {
	Groups  []analysis.Group
	Labels  map[string]string
	Applied int
}

// Pass runs the grouping model over the store.
type Pass struct {
	store   *store.Store
	grouper analysis.Grouper
	log     *logger.Logger
}

// New creates a Pass.
func New(st *store.Store, grouper analysis.Grouper, log *logger.Logger) *Pass {
	if log == nil {
		log = logger.Nop()
	}

	return &Pass{store: st, grouper: grouper, log: log}
}

// Run sends the summaries of analyzed records to the grouper and applies the
// resulting labels with a single ApplyGroupLabels call. Records the model leaves out
// keep their labels. A grouper failure leaves the store untouched.
func (p *Pass) Run(ctx context.Context) (*Result, error) {
	records := p.store.ListAll()

	inputs := Inputs(records)
	if len(inputs) == 0 {
		return &Result{Labels: map[string]string{}}, nil
	}

	groups, err := p.grouper.Group(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("grouping failed: %w", err)
	}

	known := make(map[string]bool, len(records))
	for _, r := range records {
		known[r.Identity] = true
	}

	labels := Labels(groups, known)

	applied, err := p.store.ApplyGroupLabels(labels)
	if err != nil {
		return nil, err
	}

	p.log.Info("grouping applied", "groups", len(groups), "labelled", applied)

	return &Result{Groups: groups, Labels: labels, Applied: applied}, nil
}

// Inputs builds the grouping input from analyzed records, newest first.
func Inputs(records []models.ArticleRecord) []analysis.SummaryInput {
	analyzed := make([]models.ArticleRecord, 0, len(records))

	for _, r := range records {
		if r.Analyzed() {
			analyzed = append(analyzed, r)
		}
	}

	sort.SliceStable(analyzed, func(i, j int) bool {
		return analyzed[i].CreatedAt.After(analyzed[j].CreatedAt)
	})

	inputs := make([]analysis.SummaryInput, 0, len(analyzed))
	for _, r := range analyzed {
		inputs = append(inputs, analysis.SummaryInput{
			Identity: r.Identity,
			Title:    r.Analysis.Title,
			Summary:  r.Analysis.Summary.Short,
		})
	}

	return inputs
}

// Labels maps each identity to its group title. When an identity appears in several
// groups the first one wins; identities missing from known are dropped.
func Labels(groups []analysis.Group, known map[string]bool) map[string]string {
	labels := make(map[string]string)

	for _, g := range groups {
		for _, id := range g.Identities {
			if !known[id] {
				continue
			}

			if _, seen := labels[id]; seen {
				continue
			}

			labels[id] = g.Title
		}
	}

	return labels
}

// GroupView is a group with its member records.
type GroupView struct {
	Title   string
	Records []models.ArticleRecord
}

// ByLabel groups stored records by their current label, unlabelled records last.
func ByLabel(records []models.ArticleRecord) []GroupView {
	index := make(map[string]int)

	var (
		views      []GroupView
		unlabelled []models.ArticleRecord
	)

	for _, r := range records {
		if r.GroupLabel == "" {
			unlabelled = append(unlabelled, r)

			continue
		}

		i, ok := index[r.GroupLabel]
		if !ok {
			i = len(views)
			index[r.GroupLabel] = i
			views = append(views, GroupView{Title: r.GroupLabel})
		}

		views[i].Records = append(views[i].Records, r)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return len(views[i].Records) > len(views[j].Records)
	})

	if len(unlabelled) > 0 {
		views = append(views, GroupView{Title: "Ungrouped", Records: unlabelled})
	}

	return views
}
