// Package analyzer orchestrates classification: cache lookups, remote
// invocation on misses, and result persistence.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ferret-scan/ferret/pkg/cache"
	"github.com/ferret-scan/ferret/pkg/models"
	"github.com/ferret-scan/ferret/pkg/prompt"
	"github.com/ferret-scan/ferret/pkg/remote"
)

// Invoker performs the failure-aware remote call; *resilience.Client
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, req remote.Request) (*models.Classification, error)
}

// Outcome is the result of one classification with its provenance.
type Outcome struct {
	Result    *models.Classification
	FromCache bool
}

// Classifier resolves one file to a classification. Safe for concurrent
// use; concurrent misses on the same key are coalesced into one remote
// call.
type Classifier struct {
	cache    *cache.Manager
	client   Invoker
	prompts  *prompt.Manager
	template string
	log      logrus.FieldLogger
	group    singleflight.Group
}

// NewClassifier wires a Classifier. cache may be nil to disable caching;
// template defaults to prompt.DefaultTemplate.
func NewClassifier(cacheMgr *cache.Manager, client Invoker, prompts *prompt.Manager, template string, log logrus.FieldLogger) *Classifier {
	if template == "" {
		template = prompt.DefaultTemplate
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Classifier{
		cache:    cacheMgr,
		client:   client,
		prompts:  prompts,
		template: template,
		log:      log,
	}
}

// Classify returns the classification for file, from cache when a fresh
// entry exists, otherwise via the remote service. Failed calls are never
// cached, so a transient outage is retried on the next attempt.
func (c *Classifier) Classify(ctx context.Context, file models.FileRecord) (*Outcome, error) {
	promptText, err := c.prompts.Render(c.template, file)
	if err != nil {
		return nil, err
	}
	version, err := c.prompts.Version(c.template)
	if err != nil {
		return nil, err
	}

	key := cache.Key{
		Fingerprint:     file.FastHash,
		Size:            file.Size,
		TemplateVersion: version,
	}
	cacheable := c.cache != nil && file.FastHash != ""

	if cacheable {
		entry, ok, err := c.cache.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			var result models.Classification
			if err := json.Unmarshal(entry.Payload, &result); err != nil {
				// Undecodable payload: drop it and reclassify.
				c.log.WithField("key", key.String()).WithError(err).Warn("discarding corrupt cache payload")
				if err := c.cache.Invalidate(ctx, key); err != nil {
					return nil, err
				}
			} else {
				return &Outcome{Result: &result, FromCache: true}, nil
			}
		}
	}

	req := remote.Request{
		Path:    file.Path,
		Summary: summarize(file),
		Prompt:  promptText,
	}

	if !cacheable {
		result, err := c.client.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: result}, nil
	}

	// Coalesce concurrent misses for the same key into one remote call.
	// Waiting on the channel keeps followers cancellable: an abandoned
	// follower unwinds on its own ctx while the leader's flight finishes.
	ch := c.group.DoChan(key.String(), func() (any, error) {
		result, err := c.client.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		if err := c.cache.Insert(ctx, key, payload); err != nil {
			// The classification itself succeeded; losing the cache
			// write costs a future remote call, not this result.
			c.log.WithField("key", key.String()).WithError(err).Warn("cache insert failed")
		}
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.WithField("key", key.String()).Debug("coalesced duplicate classification")
		}
		return &Outcome{Result: res.Val.(*models.Classification)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func summarize(file models.FileRecord) string {
	return fmt.Sprintf("%s (%d bytes, ext %s, owner %s, modified %s)",
		file.Name, file.Size, file.Extension, file.Owner,
		file.LastModified.Format("2006-01-02"))
}
