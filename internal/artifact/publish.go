package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/orthovision/orthovision/internal/errors"
	"github.com/orthovision/orthovision/internal/integrity"
	"github.com/orthovision/orthovision/internal/logger"
)

// RevisionToken derives a deterministic revision token from artifact digests.
func RevisionToken(digests map[string]string) string {
	names := make([]string, 0, len(digests))
	for name := range digests {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.ToLower(digests[name]))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Publish uploads every artifact from dir and then sets the store revision to
// a token derived from their digests. The revision is written last so readers
// never see a new token before all files are uploaded.
func Publish(ctx context.Context, store Store, dir string, descriptors []Descriptor, log logger.Logger) (string, error) {
	pub, ok := store.(Publisher)
	if !ok {
		return "", errors.New(fmt.Errorf("%s: %w", store.Name(), ErrPublishUnsupported)).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("artifact")
	}

	digests := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		path := d.LocalPath(dir)
		sum, err := integrity.Digest(path)
		if err != nil {
			return "", err
		}
		digests[d.Name] = sum
	}

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := d.LocalPath(dir)
		if err := pub.Publish(ctx, path, d.RemoteID); err != nil {
			return "", errors.New(fmt.Errorf("publish %s: %w", d.Name, err)).
				Component("artifact").
				Category(fetchCategory(err)).
				ArtifactContext(d.Name, path).
				Context("remote_id", d.RemoteID).
				Build()
		}
		log.Info("artifact published", logger.String("artifact", d.Name), logger.String("remote_id", d.RemoteID))
	}

	token := RevisionToken(digests)
	if err := pub.SetRevision(ctx, token); err != nil {
		return "", errors.New(fmt.Errorf("set revision on %s: %w", store.Name(), err)).
			Component("artifact").
			Category(fetchCategory(err)).
			Build()
	}
	log.Info("revision published", logger.String("store", store.Name()), logger.String("revision", token))
	return token, nil
}
