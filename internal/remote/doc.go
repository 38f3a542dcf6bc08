// Package remote pulls batch deliverables from object storage.
//
// Store is the narrow contract the batch cache and workflow rely on: mirror
// a prefix into a local directory, or download one object. S3CLI shells out
// to the aws CLI through a runner.Executor; GCS talks to Cloud Storage
// directly. New selects the implementation from the [remote] config section.
package remote
