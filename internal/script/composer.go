// Package script generates Blender Python scripts from free-text requests.
// Independent of the Q&A pipeline: one model call under a fixed rule set.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blentor/blentor/internal/llm"
)

const scriptPrompt = `Eres un generador de scripts Python para Blender (API bpy). Genera un script completo y ejecutable para la petición del usuario.

Reglas obligatorias del script:
1. Empieza limpiando la escena por defecto (bpy.ops.object.select_all + delete, o bpy.data directo).
2. Usa manipulación directa de datos (bpy.data) en lugar de operadores de contexto heredados siempre que sea posible.
3. Configura el motor de render (CYCLES o BLENDER_EEVEE_NEXT) y una ruta de salida en /tmp/render.png.
4. No uses valores de enum obsoletos (por ejemplo 'BLENDER_EEVEE').
5. El script debe ejecutarse sin intervención del usuario.

Responde ÚNICAMENTE con JSON en esta forma exacta:
{"script": "<código python completo>"}

Petición:
%s`

// Generator is the model call the composer depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Composer produces bpy scripts. The Script field of the result is ALWAYS
// a string — the consuming frontend indexes into it unconditionally — so
// every failure path yields a commented error script instead.
type Composer struct {
	gen    Generator
	logger *slog.Logger
}

// NewComposer creates a script Composer.
func NewComposer(gen Generator, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{gen: gen, logger: logger}
}

// Generation statuses reported to the caller. The frontend branches on
// this field, so the values are fixed.
const (
	StatusPending = "PENDIENTE"
	StatusFailed  = "FALLO"
)

// Result is the /generar-script payload body. AssetID is reserved for
// scripts persisted as assets; this service generates ephemeral scripts,
// so it serializes as null.
type Result struct {
	Script  string  `json:"script"`
	AssetID *string `json:"asset_id"`
	Status  string  `json:"status"`
}

// failedResult wraps a commented error script in the failure shape.
func failedResult(reason string) Result {
	return Result{Script: "# error: " + reason, Status: StatusFailed}
}

type scriptVerdict struct {
	Script string `json:"script"`
}

// Compose generates a script for the request. Never returns an empty or
// missing script string.
func (c *Composer) Compose(ctx context.Context, request string) Result {
	raw, err := c.gen.Generate(ctx, fmt.Sprintf(scriptPrompt, request))
	if err != nil {
		c.logger.Warn("script generation failed", "error", err)
		return failedResult("no se pudo generar el script (fallo de conexión con el modelo)")
	}

	verdict, err := llm.DecodeJSON[scriptVerdict](raw)
	if err != nil {
		var parseErr *llm.ParseError
		if errors.As(err, &parseErr) {
			// The model sometimes answers with bare Python instead of the
			// JSON envelope. If it looks like code, use it as-is.
			text := llm.StripCodeFences(parseErr.Raw)
			if looksLikePython(text) {
				return Result{Script: text, Status: StatusPending}
			}
		}
		c.logger.Warn("script output unparsable", "error", err)
		return failedResult("respuesta del modelo ilegible")
	}

	script := strings.TrimSpace(verdict.Script)
	if script == "" {
		return failedResult("el modelo devolvió un script vacío")
	}
	return Result{Script: script, Status: StatusPending}
}

func looksLikePython(s string) bool {
	s = strings.TrimSpace(s)
	return strings.Contains(s, "import bpy") || strings.HasPrefix(s, "import ") || strings.HasPrefix(s, "#")
}
