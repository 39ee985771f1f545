package domain

import (
	"errors"
	"fmt"
)

// ErrScribly es el error base del dominio. Todos los errores de negocio
// se encadenan a este, de forma que errors.Is(err, ErrScribly) cubre
// violaciones de invariantes, conflictos y timeouts de lock.
var ErrScribly = errors.New("scribly")

var (
	// ErrAuth indica credenciales malas o un chequeo de autorizacion fallido.
	ErrAuth = fmt.Errorf("%w: not allowed", ErrScribly)
	// ErrInput indica datos invalidos provistos por el caller. Nunca se reintenta.
	ErrInput = fmt.Errorf("%w: invalid input", ErrScribly)
	// ErrStoryNotFound indica que la historia referenciada no existe.
	ErrStoryNotFound = fmt.Errorf("%w: story not found", ErrScribly)
)
