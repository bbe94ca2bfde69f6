package testmocks

// MockJob is a func-field test double for renderjob.Job.
type MockJob struct {
	RenderSynchronouslyFunc   func()
	CancelWithoutBlockingFunc func()
}

func (j *MockJob) RenderSynchronously() {
	if j.RenderSynchronouslyFunc != nil {
		j.RenderSynchronouslyFunc()
	}
}

func (j *MockJob) CancelWithoutBlocking() {
	if j.CancelWithoutBlockingFunc != nil {
		j.CancelWithoutBlockingFunc()
	}
}
