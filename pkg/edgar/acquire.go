package edgar

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coolbeans/riskscan/pkg/daterange"
	"github.com/coolbeans/riskscan/pkg/filing"
)

// Entity acquisition statuses.
const (
	StatusAcquired = "acquired"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// EntityAcquisition summarizes one entity of an acquisition run.
type EntityAcquisition struct {
	EntityID   string          `json:"entity_id"`
	Status     string          `json:"status"`
	Listed     int             `json:"listed"`
	Selected   int             `json:"selected"`
	Downloaded int             `json:"downloaded"`
	Existing   int             `json:"existing"`
	Failed     int             `json:"failed"`
	Filings    []filing.Filing `json:"filings,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// AcquisitionReport summarizes an acquisition run.
type AcquisitionReport struct {
	OutputRoot string              `json:"output_root"`
	Kind       filing.Kind         `json:"kind"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Entities   []EntityAcquisition `json:"entities"`
}

// Downloaded returns the total number of newly downloaded filings.
func (r *AcquisitionReport) Downloaded() int {
	total := 0
	for _, entity := range r.Entities {
		total += entity.Downloaded
	}
	return total
}

// Filings returns every selected filing that is present on disk.
func (r *AcquisitionReport) Filings() []filing.Filing {
	var filings []filing.Filing
	for _, entity := range r.Entities {
		filings = append(filings, entity.Filings...)
	}
	return filings
}

// Acquirer downloads the filings of a set of entities inside a date range.
type Acquirer struct {
	client *Client
	lister Lister
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(client *Client, lister Lister) *Acquirer {
	return &Acquirer{client: client, lister: lister}
}

// Acquire lists each entity's filings of kind, selects those dated inside
// [start, end] and downloads them to <outputRoot>/<ENTITY>/<YYYYMMDD>.htm,
// recording each in <outputRoot>/manifest.json. Existing files are kept.
//
// Listing and coverage problems skip the entity; download problems fail
// the filing. Only a context error or an unusable output root stops the run.
func (a *Acquirer) Acquire(ctx context.Context, entities filing.EntityList, kind filing.Kind, start, end time.Time, outputRoot string) (*AcquisitionReport, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", filing.ErrUnknownKind, kind)
	}
	if outputRoot == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s after %s", daterange.ErrInvalidRange,
			start.Format(filing.DateLayout), end.Format(filing.DateLayout))
	}

	manifestPath := filepath.Join(outputRoot, ManifestFileName)
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	report := &AcquisitionReport{OutputRoot: outputRoot, Kind: kind, Start: start, End: end}

	for _, entityID := range entities.IDs() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entityReport := a.acquireEntity(ctx, manifest, entityID, kind, start, end, outputRoot)
		report.Entities = append(report.Entities, entityReport)

		if err := manifest.Save(manifestPath); err != nil {
			return report, err
		}
	}

	return report, ctx.Err()
}

func (a *Acquirer) acquireEntity(ctx context.Context, manifest *Manifest, entityID string, kind filing.Kind, start, end time.Time, outputRoot string) EntityAcquisition {
	entityReport := EntityAcquisition{EntityID: entityID, Status: StatusAcquired}

	listings, err := a.lister.ListFilings(ctx, entityID, kind)
	if err != nil {
		log.Warn().Err(err).Str("entity", entityID).Msg("skipping entity, listing unavailable")
		entityReport.Status = StatusSkipped
		entityReport.Reason = err.Error()
		return entityReport
	}
	entityReport.Listed = len(listings)

	dates := make(daterange.Index, len(listings))
	for position, listing := range listings {
		dates[position] = listing.Date
	}

	interval, err := dates.Select(start, end)
	if err != nil {
		var coverageError *daterange.CoverageError
		if errors.As(err, &coverageError) {
			log.Warn().Str("entity", entityID).Msg(coverageError.Error())
		}
		entityReport.Status = StatusSkipped
		entityReport.Reason = err.Error()
		return entityReport
	}
	entityReport.Selected = interval.Len()

	for position := interval.Start; position <= interval.End; position++ {
		listing := listings[position]
		target := filing.Filing{EntityID: entityID, Date: listing.Date, Kind: kind}
		localPath := target.DocumentPath(outputRoot)

		documentURL, err := a.lister.ResolveDocument(ctx, listing)
		if err != nil {
			log.Warn().Err(err).Str("filing", target.ID()).Msg("document unavailable")
			entityReport.Failed++
			continue
		}

		log.Info().Str("filing", target.ID()).Str("url", documentURL).Msg("downloading")
		size, existed, err := a.client.DownloadFile(ctx, documentURL, localPath)
		if err != nil {
			log.Warn().Err(err).Str("filing", target.ID()).Msg("download failed")
			entityReport.Failed++
			continue
		}

		if existed {
			entityReport.Existing++
		} else {
			entityReport.Downloaded++
		}

		target.URL = documentURL
		target.LocalPath = localPath
		entityReport.Filings = append(entityReport.Filings, target)

		manifest.Record(&Record{
			FilingID:     target.ID(),
			EntityID:     entityID,
			Kind:         string(kind),
			FilingDate:   listing.Date,
			URL:          documentURL,
			LocalPath:    localPath,
			SizeBytes:    size,
			DownloadedAt: time.Now(),
		})
	}

	if entityReport.Failed > 0 && entityReport.Downloaded+entityReport.Existing == 0 {
		entityReport.Status = StatusFailed
	}
	return entityReport
}
