package attendance

import "errors"

var ErrUnauthenticated = errors.New("no authenticated user")
