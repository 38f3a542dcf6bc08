// Package preflight provides readiness checks for the filesystem paths and
// external tools pagebind depends on.
//
// These checks run in two contexts:
//   - workflow.ProcessBatch calls RunAll before touching the remote store.
//     If any check fails the batch stops before hours of page assembly.
//   - The CLI "pagebind tools" command uses CheckSystemDeps to print the
//     dependency table.
package preflight
