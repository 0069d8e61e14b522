package programmer

// Progress receives the advance of long transfers.
type Progress interface {
	Start(op string, total int)
	Add(n int)
	Done()
}

type nopProgress struct{}

func (nopProgress) Start(string, int) {}
func (nopProgress) Add(int)           {}
func (nopProgress) Done()             {}
