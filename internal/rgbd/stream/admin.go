package stream

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/depth.stream/internal/httputil"
)

// AttachAdminRoutes adds the receiver pages to the /debug/ index on mux.
func AttachAdminRoutes(mux *http.ServeMux, dec *Decoder) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("RGB-D state", func() any { return dec.Machine().State().String() })
	debug.KVFunc("RGB-D session", func() any { return dec.Machine().Session().String() })
	debug.KVFunc("RGB-D output queue", func() any { return dec.output.Len() })
	debug.KVFunc("RGB-D watermark", func() any {
		s, ok := dec.processorStats()
		if !ok {
			return "no config"
		}
		return s.Watermark
	})
	debug.KVFunc("RGB-D pool", func() any {
		s, ok := dec.processorStats()
		if !ok {
			return "no config"
		}
		return s.Pool
	})

	debug.HandleFunc("rgbd-stats", "RGB-D decoder and reassembly statistics (JSON)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		httputil.WriteJSONOK(w, dec.Stats())
	})

	debug.Handle("rgbd-metrics", "RGB-D Prometheus metrics",
		promhttp.HandlerFor(dec.Registry(), promhttp.HandlerOpts{}))
}
