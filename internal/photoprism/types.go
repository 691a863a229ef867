package photoprism

// Photo is the part of a PhotoPrism photo the source needs.
type Photo struct {
	UID     string `json:"UID"`
	Type    string `json:"Type"`
	TakenAt string `json:"TakenAt"`
	Hash    string `json:"Hash"`
	Width   int    `json:"Width"`
	Height  int    `json:"Height"`
}

// thumbSizes are PhotoPrism's "fit" thumbnail sizes, ascending.
var thumbSizes = []struct {
	name string
	px   int
}{
	{"fit_720", 720},
	{"fit_1280", 1280},
	{"fit_1920", 1920},
	{"fit_2048", 2048},
	{"fit_2560", 2560},
	{"fit_3840", 3840},
	{"fit_4096", 4096},
	{"fit_7680", 7680},
}

// thumbSize picks the smallest thumbnail covering maxSize, or the largest
// one when maxSize is 0 or exceeds every size.
func thumbSize(maxSize int) string {
	if maxSize > 0 {
		for _, s := range thumbSizes {
			if s.px >= maxSize {
				return s.name
			}
		}
	}
	return thumbSizes[len(thumbSizes)-1].name
}
