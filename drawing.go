package main

import "fmt"

// DrawingType тип аннотации на overlay
type DrawingType string

const (
	DrawingStroke    DrawingType = "stroke"
	DrawingRectangle DrawingType = "rectangle"
	DrawingEllipse   DrawingType = "ellipse"
)

// Point точка на canvas (нормализованные координаты)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LineStyle стиль линии
type LineStyle struct {
	Width  float64 `json:"width"`
	Dashed bool    `json:"dashed,omitempty"`
}

// FillStyle заливка для фигур
type FillStyle struct {
	Color   string   `json:"color"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// Drawing одна аннотация: stroke или фигура (rectangle/ellipse).
// Immutable после создания — "undo" это отдельное событие, не мутация.
type Drawing struct {
	Type DrawingType `json:"type"`

	// Points: для stroke — весь путь, для фигур — ровно два угла bounding box
	Points []Point `json:"points"`

	Color   string    `json:"color"`
	Line    LineStyle `json:"line"`
	Opacity *float64  `json:"opacity,omitempty"`

	// Только для stroke
	Arrow bool `json:"arrow,omitempty"`

	// Только для фигур
	Fill *FillStyle `json:"fill,omitempty"`
}

// NewStroke создаёт stroke из последовательности точек
func NewStroke(points []Point, color string, line LineStyle, opacity *float64, arrow bool) (Drawing, error) {
	if len(points) == 0 {
		return Drawing{}, fmt.Errorf("stroke requires at least one point")
	}
	if color == "" {
		return Drawing{}, fmt.Errorf("stroke requires a color")
	}

	// Копируем точки: caller может переиспользовать свой slice
	pts := make([]Point, len(points))
	copy(pts, points)

	return Drawing{
		Type:    DrawingStroke,
		Points:  pts,
		Color:   color,
		Line:    line,
		Opacity: opacity,
		Arrow:   arrow,
	}, nil
}

// NewShape создаёт rectangle или ellipse по двум углам bounding box
func NewShape(kind DrawingType, a, b Point, color string, line LineStyle, fill *FillStyle) (Drawing, error) {
	if kind != DrawingRectangle && kind != DrawingEllipse {
		return Drawing{}, fmt.Errorf("invalid shape type: %s", kind)
	}
	if color == "" {
		return Drawing{}, fmt.Errorf("shape requires a stroke color")
	}

	return Drawing{
		Type:   kind,
		Points: []Point{a, b},
		Color:  color,
		Line:   line,
		Fill:   fill,
	}, nil
}

// Fillable true для фигур (rectangle/ellipse), false для stroke
func (d Drawing) Fillable() bool {
	return d.Type == DrawingRectangle || d.Type == DrawingEllipse
}

// Validate проверяет что Drawing консистентен после десериализации
func (d Drawing) Validate() error {
	switch d.Type {
	case DrawingStroke:
		if len(d.Points) == 0 {
			return fmt.Errorf("stroke has no points")
		}
		if d.Fill != nil {
			return fmt.Errorf("stroke cannot carry a fill")
		}

	case DrawingRectangle, DrawingEllipse:
		if len(d.Points) != 2 {
			return fmt.Errorf("%s requires exactly 2 corner points, got %d", d.Type, len(d.Points))
		}
		if d.Arrow {
			return fmt.Errorf("%s cannot carry an arrowhead", d.Type)
		}

	default:
		return fmt.Errorf("unknown drawing type: %q", d.Type)
	}

	if d.Color == "" {
		return fmt.Errorf("drawing has no color")
	}

	return nil
}

// BoundingBox возвращает нормализованные углы (min, max) фигуры
func (d Drawing) BoundingBox() (Point, Point) {
	if len(d.Points) == 0 {
		return Point{}, Point{}
	}

	min, max := d.Points[0], d.Points[0]
	for _, p := range d.Points[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max
}
