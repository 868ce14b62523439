/*
Package filesystem wraps the file operations used on the artifact and temp
volumes with retry logic for NFS stale file handle errors.

# Purpose

Artifact and temp directories are often mounted over NFS in container
deployments. ESTALE (stale file handle) errors on those mounts are usually
transient, so stat, open, remove and rename are retried with exponential
backoff before the error is surfaced. Any other error is returned
immediately.

# Usage

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

	// Moves a finished artifact out of its temp directory. Falls back to
	// copy+remove when the directories live on different devices.
	err := filesystem.MoveFile(tmpPath, artifactPath, filesystem.DefaultRetryConfig())

# Metrics

Every operation is labeled with the volume it touched. Volumes are resolved
by longest-prefix match against the directories registered at startup with
SetDefaultVolumeResolver:

	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
	    "artifacts": cfg.ArtifactDir,
	    "temp":      cfg.TempDir,
	    "database":  cfg.DatabaseDir,
	}))
*/
package filesystem
