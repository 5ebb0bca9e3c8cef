package client

// Observer receives results of a watched query. Callbacks run on the
// client's dispatch goroutine: they must not block and must not call Query
// or Mutate. Subscribe, Refetch, Unsubscribe and polling calls are fine.
type Observer interface {
	Next(*Result)
	Error(error)
}

// ObserverFuncs adapts functions to Observer. Nil funcs are ignored.
type ObserverFuncs struct {
	NextFunc  func(*Result)
	ErrorFunc func(error)
}

func (o ObserverFuncs) Next(r *Result) {
	if o.NextFunc != nil {
		o.NextFunc(r)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.ErrorFunc != nil {
		o.ErrorFunc(err)
	}
}
