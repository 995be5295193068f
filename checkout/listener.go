package checkout

import (
	"mailsized/domain"
	"mailsized/progress"
)

// The Controller is the progress listener. Callbacks for a job the session
// no longer follows are dropped.

func (c *Controller) following(jobID string) bool {
	return c.s.Phase == domain.PhaseProcessing && c.s.JobID == jobID
}

func (c *Controller) OnProgress(jobID string, percent int, message string) {
	c.mu.Lock()
	if !c.following(jobID) {
		c.mu.Unlock()
		return
	}
	c.s.ProgressPercent = percent
	c.s.ProgressMessage = message
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) OnComplete(jobID, downloadURL string) {
	c.mu.Lock()
	if !c.following(jobID) {
		c.mu.Unlock()
		return
	}
	c.s.Phase = domain.PhaseCompleted
	c.s.DownloadURL = downloadURL
	c.s.ProgressPercent = 100
	c.s.ProgressMessage = progress.CompleteMessage
	c.s.LastError = nil
	sessionID := c.s.ID
	c.mu.Unlock()

	if err := c.markers.Clear(sessionID); err != nil {
		c.logger.Warn("clear session marker failed", "err", err)
	}
	c.logger.Info("job completed", "job_id", jobID)
	c.publish()
}

func (c *Controller) OnFailure(jobID string, err error) {
	e, ok := domain.AsError(err)
	if !ok {
		e = domain.NewError(domain.CodeJobFailed, progress.DefaultFailureMessage, err)
	}
	c.mu.Lock()
	if !c.following(jobID) {
		c.mu.Unlock()
		return
	}
	c.s.LastError = e
	terminal := e.Code != domain.CodeDownloadUnavailable
	if terminal {
		c.s.Phase = domain.PhaseFailed
		c.s.UploadComplete = false
	}
	sessionID := c.s.ID
	c.mu.Unlock()

	if terminal {
		if cerr := c.markers.Clear(sessionID); cerr != nil {
			c.logger.Warn("clear session marker failed", "err", cerr)
		}
	}
	c.logger.Warn("job did not complete", "job_id", jobID, "code", e.Code, "err", err)
	c.publish()
}
