package core

// genre.go models genre presets as a closed enumeration mapping to fixed
// weighting triples: a plain lookup table, not inheritance or a pluggable
// strategy interface.

// GenreWeights is the closed set of {alpha, beta, gamma} triples recognised
// at session init.
type GenreWeights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

var genrePresets = map[string]GenreWeights{
	"electronic_music": {Alpha: 0.3, Beta: 0.5, Gamma: 0.2},
	"ballet":            {Alpha: 0.5, Beta: 0.2, Gamma: 0.3},
	"opera":             {Alpha: 0.2, Beta: 0.3, Gamma: 0.5},
	"installation":      {Alpha: 0.7, Beta: 0.1, Gamma: 0.2},
	"theatre":           {Alpha: 0.4, Beta: 0.3, Gamma: 0.3},
}

// LookupGenre resolves a genre preset name to its weighting triple. ok is
// false for the empty string or an unrecognised name.
func LookupGenre(name string) (GenreWeights, bool) {
	g, ok := genrePresets[name]
	return g, ok
}
