package httpx

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func dashboard(c echo.Context) error {
	return c.HTML(http.StatusOK, dashboardPageHTML)
}

const dashboardPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Quote Engine</title>
  <style>
    :root { --bg: #08161f; --card: #0c1c27; --line: #2a4b63; --text: #e5f4ff; --muted: #9bbacf; --warn: #ffca63; }
    body { margin: 0; background: var(--bg); color: var(--text); font-family: "Segoe UI", sans-serif; }
    .shell { max-width: 1120px; margin: 0 auto; padding: 28px 18px; }
    .cards { display: grid; grid-template-columns: repeat(4, minmax(0, 1fr)); gap: 10px; margin-bottom: 14px; }
    .card { background: var(--card); border: 1px solid var(--line); border-radius: 12px; padding: 12px; }
    .k { font-family: monospace; font-size: 11px; color: var(--muted); text-transform: uppercase; }
    .v { font-size: 1.3rem; font-weight: 700; }
    table { width: 100%; border-collapse: collapse; background: var(--card); }
    th, td { padding: 8px 10px; border-bottom: 1px solid var(--line); text-align: left; font-size: 13px; }
    th { color: var(--muted); font-family: monospace; font-size: 11px; text-transform: uppercase; }
    .review { color: var(--warn); }
  </style>
</head>
<body>
  <div class="shell">
    <h1>Quote Engine</h1>
    <div class="cards">
      <div class="card"><div class="k">Records</div><div class="v" id="records">-</div></div>
      <div class="card"><div class="k">Awaiting review</div><div class="v" id="review">-</div></div>
      <div class="card"><div class="k">Quoted SOL</div><div class="v" id="quoted">-</div></div>
      <div class="card"><div class="k">Funded SOL</div><div class="v" id="funded">-</div></div>
    </div>
    <table>
      <thead><tr><th>ID</th><th>Title</th><th>Stage</th><th>Total SOL</th><th>Updated</th></tr></thead>
      <tbody id="rows"></tbody>
    </table>
  </div>
  <script>
    const sol = (lamports) => (lamports / 1e9).toFixed(3);
    async function refresh() {
      const summary = await (await fetch("/api/v1/summary")).json();
      document.getElementById("records").textContent = summary.counts.records;
      document.getElementById("review").textContent = summary.counts.awaiting_review;
      document.getElementById("quoted").textContent = sol(summary.totals.quoted_lamports);
      document.getElementById("funded").textContent = sol(summary.totals.funded_lamports);

      const views = await (await fetch("/api/v1/records?limit=50")).json();
      const rows = document.getElementById("rows");
      rows.innerHTML = "";
      for (const view of views) {
        const record = view.record;
        const tr = document.createElement("tr");
        if (record.requires_human_review) tr.className = "review";
        const cells = [record.id, record.title, record.current_stage,
          record.pricing ? sol(record.pricing.total_lamports) : "-", record.updated_at];
        for (const value of cells) {
          const td = document.createElement("td");
          td.textContent = value;
          tr.appendChild(td);
        }
        rows.appendChild(tr);
      }
    }
    refresh();
    setInterval(refresh, 10000);
  </script>
</body>
</html>`
