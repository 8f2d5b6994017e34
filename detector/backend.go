package detector

// Backend executes the model. Infer may block for the duration of the model run
// and is never retried by the caller.
type Backend interface {
	Infer(input Tensor) (Tensor, error)
	InputShape() []int
	OutputShape() []int
	Close() error
}
