package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/artifact/stores"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
)

// ShowRevision writes the local revision record to w. It does not contact
// the store.
func ShowRevision(settings *conf.Settings, w io.Writer) error {
	records := artifact.NewRecordStore(settings.Artifacts.RevisionRecordPath())
	rev, err := records.Load()
	if err != nil {
		return err
	}
	if rev == nil {
		_, err := fmt.Fprintf(w, "no revision recorded at %s\n", records.Path())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "revision:\t%s\n", rev.Token)
	_, _ = fmt.Fprintf(tw, "applied:\t%s\n", rev.AppliedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "record:\t%s\n", records.Path())

	names := make([]string, 0, len(rev.Digests))
	for name := range rev.Digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", name, rev.Digests[name])
	}
	return tw.Flush()
}

// Publish uploads the artifacts in dir to the configured store and sets its
// revision. It returns the new revision token.
func Publish(ctx context.Context, settings *conf.Settings, dir string) (string, error) {
	store, err := stores.New(&settings.Artifacts, nil, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	descriptors := stores.Descriptors(settings.Artifacts.Files)
	token, err := artifact.Publish(ctx, store, dir, descriptors, nil)
	if err != nil {
		return "", err
	}
	GetLogger().Info("artifact set published",
		logger.String("store", store.Name()),
		logger.String("revision", token),
		logger.Int("artifacts", len(descriptors)))
	return token, nil
}
