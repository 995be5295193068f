package stubapi

import "time"

// FailRegister makes upload registration answer {ok:false, detail}.
// An empty detail restores normal behavior.
func (b *Backend) FailRegister(detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerFail = detail
}

// FailStorage makes storage PUTs answer with status. Zero restores.
func (b *Backend) FailStorage(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.storageStatus = status
}

func (b *Backend) FailStartJob(detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startFail = detail
}

// SetPaymentResponse replaces the payment-session answer. A nil body restores
// the default redirect answer.
func (b *Backend) SetPaymentResponse(status int, body map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paymentStatus = status
	b.paymentBody = body
}

// SetFrames scripts the raw data payloads sent on every progress stream.
// With closeAfter the server hangs up after the last frame; otherwise the
// stream stays open until the client leaves.
func (b *Backend) SetFrames(closeAfter bool, frames ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append([]string(nil), frames...)
	b.closeAfter = closeAfter
}

func (b *Backend) SetFrameDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameDelay = d
}

// FailDownload makes the next n download-reference requests fail.
func (b *Backend) FailDownload(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloadFails = n
}

func (b *Backend) SetDownloadURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloadURL = u
}

// Calls returns how many times route was hit. Routes: upload, storage,
// update_email, devtest, pay, events, download, files.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) StartJobs() []StartJobRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StartJobRecord(nil), b.starts...)
}

func (b *Backend) Payments() []PaymentRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PaymentRecord(nil), b.payments...)
}

func (b *Backend) Email(jobID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emails[jobID]
}

// Stored returns the bytes written to storage for a job and their content type.
func (b *Backend) Stored(jobID string) ([]byte, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok || j.Stored == nil {
		return nil, "", false
	}
	return append([]byte(nil), j.Stored...), j.StoredType, true
}

// ActiveStreams is the number of progress streams currently open.
func (b *Backend) ActiveStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamsActive
}

// StreamsOpened is the total number of progress streams ever opened.
func (b *Backend) StreamsOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamsStarted
}

// WaitStream blocks until a progress stream is opened and returns its job id.
func (b *Backend) WaitStream(timeout time.Duration) (string, bool) {
	select {
	case id := <-b.eventsOpened:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}
