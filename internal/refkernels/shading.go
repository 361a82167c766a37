// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"github.com/chewxy/math32"

	"github.com/gogpu/tsnc/frame"
)

// Ambient is the ambient term applied to occluded albedo.
const Ambient = 0.03

// Vec3 is a three-component vector.
type Vec3 [3]float32

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a Vec3) Scale(s float32) Vec3 { return Vec3{a[0] * s, a[1] * s, a[2] * s} }
func (a Vec3) Mul(b Vec3) Vec3      { return Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]} }
func (a Vec3) Dot(b Vec3) float32   { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// Mix interpolates linearly from a to b.
func (a Vec3) Mix(b Vec3, t float32) Vec3 { return a.Scale(1 - t).Add(b.Scale(t)) }

// Normalize returns a unit vector, or the zero vector for zero input.
func (a Vec3) Normalize() Vec3 {
	l := math32.Sqrt(a.Dot(a))
	if l == 0 {
		return Vec3{}
	}
	return a.Scale(1 / l)
}

func clamp01(x float32) float32 { return math32.Min(math32.Max(x, 0), 1) }

// Material is the decoded neural G-buffer of one pixel.
// Channels: 0-2 albedo, 3 roughness, 4 metalness, 5 occlusion.
type Material struct {
	Albedo    Vec3
	Roughness float32
	Metalness float32
	Occlusion float32
}

// MaterialFromChannels decodes the first six network outputs.
func MaterialFromChannels(y []float32) Material {
	return Material{
		Albedo:    Vec3{y[0], y[1], y[2]},
		Roughness: y[3],
		Metalness: y[4],
		Occlusion: y[5],
	}
}

// Shade applies the sun light of c to a surface point.
func Shade(c *frame.Constants, m Material, n, position Vec3) Vec3 {
	a := Vec3{clamp01(m.Albedo[0]), clamp01(m.Albedo[1]), clamp01(m.Albedo[2])}
	r := clamp01(m.Roughness)
	metal := clamp01(m.Metalness)
	ao := clamp01(m.Occlusion)

	sun := Vec3{c.SunDirection[0], c.SunDirection[1], c.SunDirection[2]}
	cam := Vec3{c.CameraPosition[0], c.CameraPosition[1], c.CameraPosition[2]}
	l := sun.Normalize()
	v := cam.Sub(position).Normalize()
	h := l.Add(v).Normalize()
	ndl := math32.Max(n.Dot(l), 0)
	ndh := math32.Max(n.Dot(h), 0)

	shininess := 256*(1-r) + 4*r
	f0 := Vec3{0.04, 0.04, 0.04}.Mix(a, metal)
	specular := f0.Scale(math32.Pow(ndh, shininess))
	diffuse := a.Scale(1 - metal)

	intensity := c.SunDirection[3]
	return diffuse.Add(specular).Scale(ndl * intensity).Add(a.Scale(Ambient * ao))
}
