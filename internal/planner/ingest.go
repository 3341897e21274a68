package planner

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"autolearn/internal/logging"
	"autolearn/internal/source"
	"autolearn/internal/store"
)

// prepared is a hit after fetch, split and embed, ready to commit.
type prepared struct {
	hit      source.Hit
	page     source.Page
	passages []string
	vectors  [][]float32 // nil entry: embedding failed for that passage
	known    bool
	failed   bool
}

// ingest runs FETCH_FILTER for hits. Fetch, split and embed run on a bounded
// worker pool; documents are committed to the store in hit order as soon as
// each is ready, so earlier documents persist even if a later one fails.
func (p *Planner) ingest(ctx context.Context, log *logging.Logger, hits []source.Hit, res *Result) error {
	if len(hits) == 0 {
		return nil
	}
	ready := make([]chan prepared, len(hits))
	for i := range ready {
		ready[i] = make(chan prepared, 1)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	go func() {
		for i, h := range hits {
			i, h := i, h
			g.Go(func() error {
				ready[i] <- p.prepare(ctx, log, h)
				return nil
			})
		}
	}()

	var commitErr error
	for i := range hits {
		pr := <-ready[i]
		if commitErr != nil {
			continue // drain so every worker finishes
		}
		commitErr = p.commit(ctx, log, pr, res)
	}
	g.Wait()
	return commitErr
}

// prepare fetches, splits and embeds one hit. It never fails; problems are
// recorded on the result and logged.
func (p *Planner) prepare(ctx context.Context, log *logging.Logger, h source.Hit) prepared {
	pr := prepared{hit: h}

	known, err := p.store.HasDocument(ctx, h.URL)
	if err != nil {
		log.Warn("Document lookup failed for %s: %v", h.URL, err)
	}
	if known {
		pr.known = true
		return pr
	}

	page, err := p.fetcher.Fetch(ctx, h.URL, p.cfg.MaxFetchBytes)
	if err != nil {
		log.Warn("Skipping %s: %v", h.URL, err)
		pr.failed = true
		return pr
	}
	if n := utf8.RuneCountInString(page.Text); n < p.cfg.MinTextLen {
		log.Debug("Skipping %s: text too short (%d < %d)", h.URL, n, p.cfg.MinTextLen)
		pr.failed = true
		return pr
	}
	pr.page = page
	pr.passages = p.splitter.Split(page.Text)
	pr.vectors = p.embed(ctx, log, pr.passages)
	return pr
}

// embed embeds passages in one batch, falling back to one call per passage
// so a single failure only loses that passage.
func (p *Planner) embed(ctx context.Context, log *logging.Logger, passages []string) [][]float32 {
	if len(passages) == 0 {
		return nil
	}
	vecs, err := p.engine.EmbedBatch(ctx, passages)
	if err == nil && len(vecs) == len(passages) {
		return vecs
	}
	log.Debug("Batch embedding failed, embedding %d passages individually: %v", len(passages), err)

	vecs = make([][]float32, len(passages))
	for i, text := range passages {
		v, err := p.engine.Embed(ctx, text)
		if err != nil {
			log.Warn("Skipping passage %d: %v", i, err)
			continue
		}
		vecs[i] = v
	}
	return vecs
}

// commit persists one prepared hit: the document first, then every novel
// passage. Recoverable errors skip the item; anything else is returned.
func (p *Planner) commit(ctx context.Context, log *logging.Logger, pr prepared, res *Result) error {
	switch {
	case pr.known:
		res.Known++
		return nil
	case pr.failed:
		res.Failed++
		return nil
	}

	title := firstNonEmpty(pr.page.Title, pr.hit.Title)
	published := pr.page.PublishedAt
	if published == nil {
		published = pr.hit.PublishedAt
	}

	p.persistMu.Lock()
	defer p.persistMu.Unlock()

	docID, err := p.store.UpsertDocument(ctx, store.DocumentInput{
		URL:         pr.hit.URL,
		Title:       title,
		RawText:     pr.page.Text,
		PublishedAt: published,
		FetchedAt:   pr.page.FetchedAt,
	})
	if err != nil {
		if isRecoverable(err) {
			log.Warn("Skipping document %s: %v", pr.hit.URL, err)
			res.Failed++
			return nil
		}
		return wrapStage(StagePersist, err)
	}
	res.Fetched++

	kept := 0
	for seq, text := range pr.passages {
		vec := pr.vectors[seq]
		if vec == nil {
			res.Skipped++
			continue
		}
		d, err := p.filter.Check(ctx, p.store, vec)
		if err != nil {
			if isRecoverable(err) {
				log.Warn("Novelty check failed for %s#%d: %v", pr.hit.URL, seq, err)
				res.Skipped++
				continue
			}
			return wrapStage(StageFetchFilter, err)
		}
		if !d.Novel {
			res.Rejected++
			continue
		}
		pid, err := p.store.AddPassage(ctx, docID, seq, text, vec)
		if err != nil {
			if isRecoverable(err) {
				log.Warn("Skipping passage %s#%d: %v", pr.hit.URL, seq, err)
				res.Skipped++
				continue
			}
			return wrapStage(StagePersist, err)
		}
		res.Kept = append(res.Kept, Material{
			URL:        pr.hit.URL,
			Title:      title,
			Text:       text,
			DocumentID: docID,
			PassageID:  pid,
		})
		kept++
	}
	log.Debug("Committed %s: %d passages, %d kept", pr.hit.URL, len(pr.passages), kept)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
