package main

import (
	"math"
	"math/rand"
	"time"
)

type point struct{ x, y float64 }

func (p point) dist(q point) float64 { return math.Hypot(p.x-q.x, p.y-q.y) }

// walker moves by random waypoint: pick a target in the area, travel there
// at a uniform speed, pause, repeat.
type walker struct {
	pos, target point
	speed       float64
	pauseLeft   time.Duration
}

type waypoint struct {
	area               float64
	minSpeed, maxSpeed float64
	pause              time.Duration
	rng                *rand.Rand
}

func (w waypoint) spawn() *walker {
	k := &walker{pos: w.randomPoint()}
	w.retarget(k)
	return k
}

func (w waypoint) randomPoint() point {
	return point{w.rng.Float64() * w.area, w.rng.Float64() * w.area}
}

func (w waypoint) retarget(k *walker) {
	k.target = w.randomPoint()
	k.speed = w.minSpeed + w.rng.Float64()*(w.maxSpeed-w.minSpeed)
}

func (w waypoint) advance(k *walker, dt time.Duration) {
	if k.pauseLeft > 0 {
		k.pauseLeft -= dt
		if k.pauseLeft <= 0 {
			w.retarget(k)
		}
		return
	}
	step := k.speed * dt.Seconds()
	d := k.pos.dist(k.target)
	if d <= step {
		k.pos = k.target
		k.pauseLeft = w.pause
		return
	}
	k.pos.x += (k.target.x - k.pos.x) / d * step
	k.pos.y += (k.target.y - k.pos.y) / d * step
}
