// Package repository define los contratos de dominio de cuentas locales y
// vínculos con proveedores (authmap).
//
// Las implementaciones viven en internal/store/adapters/{pg,sqlite,memory}.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
//   - Los adapters traducen errores del driver (no rows, unique violation)
//     a ErrNotFound / ErrConflict
package repository
