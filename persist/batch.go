package persist

import "github.com/docforge/docsync/asset"

// partitionBySize splits pending assets into large ones (above the chunking
// threshold, uploaded one by one via the resumable protocol) and small ones
// (batched into multipart sync calls).
func partitionBySize(records []asset.Record, threshold int64) (large, small []asset.Record) {
	for _, rec := range records {
		if rec.Size > threshold {
			large = append(large, rec)
		} else {
			small = append(small, rec)
		}
	}
	return large, small
}

// buildBatches groups small assets honoring both limits at once: a batch is
// closed as soon as adding the next asset would exceed the file count or the
// total byte size (payload-too-large protection). An asset always fits an
// empty batch.
func buildBatches(records []asset.Record, maxFiles int, maxBytes int64) [][]asset.Record {
	var batches [][]asset.Record
	var cur []asset.Record
	var curBytes int64

	for _, rec := range records {
		if len(cur) > 0 && (len(cur)+1 > maxFiles || curBytes+rec.Size > maxBytes) {
			batches = append(batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, rec)
		curBytes += rec.Size
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func totalBytes(records []asset.Record) int64 {
	var n int64
	for _, rec := range records {
		n += rec.Size
	}
	return n
}
