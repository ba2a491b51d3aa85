// Package convert renders presentation documents into per-slide PNG
// images.
//
// The package defines the Pipeline interface consumed by the worker
// executor, plus the default Renderer implementation which shells out to
// LibreOffice (soffice) for document-to-PDF conversion and to pdftoppm
// for PDF rasterization. Remote sources are fetched over HTTP before
// rendering.
//
// Pipelines report progress through a ProgressFunc with stage-tagged
// messages ("[DOWNLOAD] ...", "[CONVERT] ..."), which the executor
// forwards to the job store and lifecycle hooks.
package convert
