package generator

// ArgsForTest exposes args for testing.
func (g *Generator) ArgsForTest(elements []string) []string {
	return g.args(elements)
}
