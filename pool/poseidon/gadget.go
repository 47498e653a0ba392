package poseidon

import (
	"github.com/consensys/gnark/frontend"
)

// gadgetConstants re-exposes the round constants and MDS matrix as
// frontend.Variable literals; CompressGadget calls it on every invocation.
func gadgetConstants() ([totalRounds][width]frontend.Variable, [width][width]frontend.Variable) {
	var rc [totalRounds][width]frontend.Variable
	for r := 0; r < totalRounds; r++ {
		for i := 0; i < width; i++ {
			rc[r][i] = roundConstants[r][i].String()
		}
	}
	var m [width][width]frontend.Variable
	for i := 0; i < width; i++ {
		for j := 0; j < width; j++ {
			m[i][j] = mds[i][j].String()
		}
	}
	return rc, m
}

func gadgetSbox(api frontend.API, x frontend.Variable) frontend.Variable {
	x2 := api.Mul(x, x)
	x4 := api.Mul(x2, x2)
	return api.Mul(x4, x)
}

func gadgetMix(api frontend.API, s [width]frontend.Variable, m [width][width]frontend.Variable) [width]frontend.Variable {
	var out [width]frontend.Variable
	for i := 0; i < width; i++ {
		acc := frontend.Variable(0)
		for j := 0; j < width; j++ {
			acc = api.Add(acc, api.Mul(m[i][j], s[j]))
		}
		out[i] = acc
	}
	return out
}

// CompressGadget is the in-circuit equivalent of Compress, built from the
// same round constants and MDS matrix so a witness computed by Compress
// satisfies the constraints CompressGadget emits.
func CompressGadget(api frontend.API, left, right frontend.Variable) frontend.Variable {
	rc, m := gadgetConstants()
	s := [width]frontend.Variable{frontend.Variable(0), left, right}
	halfFull := fullRounds / 2
	for r := 0; r < totalRounds; r++ {
		for i := 0; i < width; i++ {
			s[i] = api.Add(s[i], rc[r][i])
		}
		if r < halfFull || r >= halfFull+partialRounds {
			for i := 0; i < width; i++ {
				s[i] = gadgetSbox(api, s[i])
			}
		} else {
			s[0] = gadgetSbox(api, s[0])
		}
		s = gadgetMix(api, s, m)
	}
	return s[0]
}
