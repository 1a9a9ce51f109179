package devbin

// Fuzz is the go-fuzz entry point over the full container parse.
func Fuzz(data []byte) int {
	f, err := NewBytes(data, &Opts{Quiet: true})
	if err != nil {
		return 0
	}
	err = f.Parse()
	if err != nil {
		return 0
	}
	return 1
}
