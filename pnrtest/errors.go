// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package pnrtest

import "github.com/pkg/errors"

var (
	errBelBound  = errors.New("pnrtest: bel already bound")
	errWireBound = errors.New("pnrtest: wire already bound to a different net")
	errPipBound  = errors.New("pnrtest: pip already bound to a different net")
)
