package shapes

import "errors"

type Vector2 struct {
	X, Y float32
}

func NewVector2(x, y float32) *Vector2 {
	return &Vector2{X: x, Y: y}
}

type Polygon struct {
	Name   string `wireform:"label"`
	Points []Vector2
	Cache  map[string]int `wireform:"-"`
	sides  int
}

func NewPolygon(name string) (*Polygon, error) {
	if name == "" {
		return nil, errors.New("polygon needs a name")
	}
	return &Polygon{Name: name}, nil
}

func NewFromPoints(pts ...Vector2) *Polygon {
	return &Polygon{Points: pts, sides: len(pts)}
}

type Pair[T any] struct {
	A, B T
}

type Kind int

func NewKind() Kind { return 0 }
