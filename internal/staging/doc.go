// Package staging allocates fresh destination paths for export jobs and
// reclaims stale export directories.
//
// Every allocation gets its own directory named by a random UUID under the
// staging root so concurrent sessions never collide and a job's output keeps
// the source's file name.
package staging
