package gpu

import "fmt"

var (
	shapeNames  = []string{"point", "sphere", "hemisphere", "box", "cone", "circle", "edge"}
	blendNames  = []string{"additive", "alpha", "multiply", "premultiplied"}
	renderNames = []string{"billboard", "stretched", "horizontal", "vertical"}
)

func (s EmitShape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return "unknown"
}

func (m RenderMode) String() string {
	if int(m) < len(renderNames) {
		return renderNames[m]
	}
	return "unknown"
}

func parseName(kind string, names []string, text []byte) (uint32, error) {
	for i, n := range names {
		if n == string(text) {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, text)
}

func (s EmitShape) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *EmitShape) UnmarshalText(text []byte) error {
	v, err := parseName("emit shape", shapeNames, text)
	*s = EmitShape(v)
	return err
}

func (b BlendMode) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *BlendMode) UnmarshalText(text []byte) error {
	v, err := parseName("blend mode", blendNames, text)
	*b = BlendMode(v)
	return err
}

func (m RenderMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *RenderMode) UnmarshalText(text []byte) error {
	v, err := parseName("render mode", renderNames, text)
	*m = RenderMode(v)
	return err
}
