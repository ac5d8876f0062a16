package export

import (
	"fmt"
	"iter"
	"time"

	"github.com/visionzones/exporter/pkg/compute"
)

// Operations yields the request's remote operations in a fixed order: year
// outer, then month, then index. Producing the sequence lazily keeps peak
// memory independent of fan-out; a multi-year, multi-index job can reach
// hundreds of operations.
//
// Output keys follow the storage layout the archive streamer depends on:
//
//	<job_id>/<INDEX>/<INDEX>_<YYYY>_<MM>.tif
//	<job_id>/zones_k<k>.tif
func (r *Request) Operations(bucket string) iter.Seq[compute.OperationSpec] {
	if r.Kind == KindZones {
		return r.zoneOperations(bucket)
	}
	return r.indexOperations(bucket)
}

func (r *Request) indexOperations(bucket string) iter.Seq[compute.OperationSpec] {
	return func(yield func(compute.OperationSpec) bool) {
		for year := r.StartYear; year <= r.EndYear; year++ {
			for month := 1; month <= 12; month++ {
				start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
				end := start.AddDate(0, 1, 0)
				for _, idx := range r.Indices {
					name := fmt.Sprintf("%s_%d_%02d", idx, year, month)
					spec := compute.OperationSpec{
						Description: name,
						Operation:   "index:" + idx,
						Geometry:    r.Geometry,
						StartDate:   start.Format("2006-01-02"),
						EndDate:     end.Format("2006-01-02"),
						Bucket:      bucket,
						FilePrefix:  fmt.Sprintf("%s/%s/%s", r.JobID, idx, name),
						Scale:       r.Scale,
						Params: map[string]any{
							"exclude_classes": r.ExcludeClasses,
						},
					}
					if !yield(spec) {
						return
					}
				}
			}
		}
	}
}

func (r *Request) zoneOperations(bucket string) iter.Seq[compute.OperationSpec] {
	return func(yield func(compute.OperationSpec) bool) {
		spec := compute.OperationSpec{
			Description: fmt.Sprintf("%s_zones_k%d", r.JobID, r.Clusters),
			Operation:   "zones",
			Geometry:    r.Geometry,
			StartDate:   fmt.Sprintf("%d-01-01", r.StartYear),
			EndDate:     fmt.Sprintf("%d-12-31", r.EndYear),
			Bucket:      bucket,
			FilePrefix:  fmt.Sprintf("%s/zones_k%d", r.JobID, r.Clusters),
			Scale:       r.Scale,
			Params: map[string]any{
				"clusters": r.Clusters,
			},
		}
		yield(spec)
	}
}
