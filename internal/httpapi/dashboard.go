package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Zortexd XP Dashboard</title>
  <style>
    :root {
      --ink: #1d1a2b;
      --paper: #f6f3ee;
      --card: #fffdfa;
      --line: #d9d0c2;
      --accent: #6f4fb3;
      --accent-2: #d89a3d;
      --danger: #bf4a40;
      --muted: #73707f;
      --shadow: 0 16px 32px rgba(29, 26, 43, 0.14);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background:
        radial-gradient(1100px 480px at -5% -10%, rgba(216, 154, 61, 0.16), transparent 60%),
        radial-gradient(900px 480px at 110% -10%, rgba(111, 79, 179, 0.16), transparent 65%),
        linear-gradient(140deg, #fbf7f0 0%, #f2eff8 45%, #fffdfa 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1180px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
      animation: rise 420ms ease-out;
    }

    .bar {
      background: linear-gradient(140deg, #fffefc, #f8f3ea);
      border: 1px solid var(--line);
      border-radius: 18px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 {
      margin: 0;
      font-size: clamp(1.2rem, 2vw, 1.75rem);
      letter-spacing: 0.02em;
    }

    .sub {
      margin-top: 6px;
      color: var(--muted);
      font-size: 0.9rem;
    }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 2fr 0.6fr 0.6fr;
      margin-top: 12px;
    }

    .controls input {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      background: #ffffff;
      color: var(--ink);
      padding: 10px 12px;
      font-size: 0.92rem;
      outline: none;
    }

    .controls input:focus {
      border-color: var(--accent);
      box-shadow: 0 0 0 3px rgba(111, 79, 179, 0.15);
    }

    button {
      border: 0;
      border-radius: 10px;
      padding: 10px 12px;
      font-family: inherit;
      font-weight: 700;
      letter-spacing: 0.01em;
      cursor: pointer;
      transition: transform 120ms ease, opacity 120ms ease, box-shadow 120ms ease;
    }

    button:hover { transform: translateY(-1px); }
    button:active { transform: translateY(0); }

    .btn-primary {
      background: linear-gradient(125deg, var(--accent), #8a6cc9);
      color: #ffffff;
      box-shadow: 0 10px 18px rgba(111, 79, 179, 0.22);
    }

    .btn-secondary {
      background: linear-gradient(120deg, #f1ece3, #ece4d6);
      color: var(--ink);
      border: 1px solid var(--line);
    }

    .pulse { animation: pulse 360ms ease; }

    .cards {
      display: grid;
      gap: 10px;
      grid-template-columns: repeat(6, minmax(120px, 1fr));
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 12px;
      min-height: 86px;
      box-shadow: 0 8px 18px rgba(29, 26, 43, 0.08);
      animation: stagger 340ms ease both;
    }

    .card:nth-child(2) { animation-delay: 40ms; }
    .card:nth-child(3) { animation-delay: 80ms; }
    .card:nth-child(4) { animation-delay: 120ms; }
    .card:nth-child(5) { animation-delay: 160ms; }
    .card:nth-child(6) { animation-delay: 200ms; }

    .label {
      text-transform: uppercase;
      letter-spacing: 0.09em;
      font-size: 0.66rem;
      color: var(--muted);
    }

    .value {
      margin-top: 6px;
      font-size: 1.02rem;
      font-weight: 700;
      line-height: 1.2;
      word-break: break-word;
    }

    .grid {
      display: grid;
      gap: 12px;
      grid-template-columns: 1fr 1fr 1.1fr;
    }

    .grid-wide {
      grid-template-columns: 1.2fr 1fr;
    }

    .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 12px;
      box-shadow: 0 10px 20px rgba(29, 26, 43, 0.08);
      min-height: 240px;
    }

    .panel h2 {
      margin: 0 0 10px;
      font-size: 0.92rem;
      letter-spacing: 0.06em;
      text-transform: uppercase;
    }

    .feed {
      margin: 0;
      padding: 0;
      list-style: none;
      display: grid;
      gap: 8px;
      max-height: 340px;
      overflow: auto;
    }

    .feed li {
      border: 1px solid #e4dccb;
      border-left: 5px solid var(--accent);
      border-radius: 10px;
      padding: 9px 10px;
      background: #fffcf6;
      font-size: 0.85rem;
      line-height: 1.35;
    }

    .feed li.warning { border-left-color: var(--accent-2); }
    .feed li.critical { border-left-color: var(--danger); }

    table {
      width: 100%;
      border-collapse: collapse;
      font-size: 0.82rem;
    }

    th, td {
      text-align: left;
      border-bottom: 1px solid #ece4d2;
      padding: 7px 6px;
      vertical-align: top;
    }

    th {
      color: #5d5a6b;
      text-transform: uppercase;
      font-size: 0.69rem;
      letter-spacing: 0.08em;
    }

    .ok { color: #3e7f3e; }
    .warn { color: #b66a21; }
    .err { color: var(--danger); }

    .status-line {
      margin-top: 10px;
      font-size: 0.84rem;
      color: var(--muted);
      display: flex;
      flex-wrap: wrap;
      gap: 10px;
    }

    .mono {
      font-family: "IBM Plex Mono", "SFMono-Regular", Menlo, Consolas, monospace;
    }

    @keyframes rise {
      from { opacity: 0; transform: translateY(8px); }
      to { opacity: 1; transform: translateY(0); }
    }

    @keyframes pulse {
      0% { transform: scale(1); }
      50% { transform: scale(0.99); }
      100% { transform: scale(1); }
    }

    @keyframes stagger {
      from { opacity: 0; transform: translateY(6px); }
      to { opacity: 1; transform: translateY(0); }
    }

    @media (max-width: 1100px) {
      .controls { grid-template-columns: 1fr 1fr; }
      .cards { grid-template-columns: repeat(3, minmax(120px, 1fr)); }
      .grid { grid-template-columns: 1fr; }
    }

    @media (max-width: 640px) {
      body { padding: 12px; }
      .controls { grid-template-columns: 1fr; }
      .cards { grid-template-columns: repeat(2, minmax(120px, 1fr)); }
    }
  </style>
</head>
<body>
  <main class="shell">
    <section class="bar" id="topBar">
      <h1>Zortexd XP Dashboard</h1>
      <div class="sub">Live view over season progress, area levels, projects, objectives, and engine events.</div>
      <div class="controls">
        <input id="token" type="password" placeholder="Bearer token (xp:read)" autocomplete="off" />
        <button id="refresh" class="btn-primary" type="button">Refresh Now</button>
        <button id="toggle" class="btn-secondary" type="button">Pause Auto</button>
      </div>
      <div class="status-line">
        <span>API: <span class="mono" id="apiBase"></span></span>
        <span>Last: <span id="lastUpdated">never</span></span>
        <span id="statusMessage">idle</span>
      </div>
    </section>

    <section class="cards">
      <article class="card"><div class="label">Season</div><div id="seasonName" class="value">-</div></article>
      <article class="card"><div class="label">Level</div><div id="seasonLevel" class="value">-</div></article>
      <article class="card"><div class="label">Season XP</div><div id="seasonXp" class="value mono">-</div></article>
      <article class="card"><div class="label">Tier</div><div id="seasonTier" class="value">-</div></article>
      <article class="card"><div class="label">Tasks</div><div id="taskCounts" class="value mono">-</div></article>
      <article class="card"><div class="label">Projects</div><div id="projectCounts" class="value mono">-</div></article>
    </section>

    <section class="grid">
      <article class="panel">
        <h2>Areas</h2>
        <table>
          <thead>
            <tr>
              <th>Path</th>
              <th>Level</th>
              <th>XP</th>
              <th>Lifetime</th>
            </tr>
          </thead>
          <tbody id="areaRows"></tbody>
        </table>
      </article>

      <article class="panel">
        <h2>Projects</h2>
        <table>
          <thead>
            <tr>
              <th>Project</th>
              <th>Tasks</th>
              <th>XP</th>
              <th>Done</th>
            </tr>
          </thead>
          <tbody id="projectRows"></tbody>
        </table>
      </article>

      <article class="panel">
        <h2>Recent Events</h2>
        <ul id="eventFeed" class="feed"></ul>
      </article>
    </section>

    <section class="grid grid-wide">
      <article class="panel">
        <h2>Objectives</h2>
        <table>
          <thead>
            <tr>
              <th>Objective</th>
              <th>Span</th>
              <th>Key Results</th>
              <th>Areas</th>
            </tr>
          </thead>
          <tbody id="objectiveRows"></tbody>
        </table>
      </article>

      <article class="panel">
        <h2>Season History</h2>
        <table>
          <thead>
            <tr>
              <th>Season</th>
              <th>Level</th>
              <th>XP</th>
              <th>Tier</th>
              <th>Projects</th>
            </tr>
          </thead>
          <tbody id="historyRows"></tbody>
        </table>
      </article>
    </section>
  </main>

  <script>
    (function () {
      const store = {
        timer: null,
        intervalMs: 5000,
        paused: false,
      };

      const dom = {
        token: document.getElementById("token"),
        refresh: document.getElementById("refresh"),
        toggle: document.getElementById("toggle"),
        apiBase: document.getElementById("apiBase"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        topBar: document.getElementById("topBar"),
        seasonName: document.getElementById("seasonName"),
        seasonLevel: document.getElementById("seasonLevel"),
        seasonXp: document.getElementById("seasonXp"),
        seasonTier: document.getElementById("seasonTier"),
        taskCounts: document.getElementById("taskCounts"),
        projectCounts: document.getElementById("projectCounts"),
        areaRows: document.getElementById("areaRows"),
        projectRows: document.getElementById("projectRows"),
        eventFeed: document.getElementById("eventFeed"),
        objectiveRows: document.getElementById("objectiveRows"),
        historyRows: document.getElementById("historyRows"),
      };

      function getBase() {
        return window.location.origin;
      }

      function getToken() {
        return dom.token.value.trim();
      }

      function cid(prefix) {
        return prefix + "_" + Date.now() + "_" + Math.random().toString(16).slice(2, 8);
      }

      async function request(path) {
        const headers = { "X-Correlation-Id": cid("dash") };
        const token = getToken();
        if (token) {
          headers["Authorization"] = "Bearer " + token;
        }
        const response = await fetch(getBase() + path, { headers: headers });
        const text = await response.text();
        let data;
        try {
          data = JSON.parse(text);
        } catch (err) {
          throw new Error("non-json response: " + text.slice(0, 220));
        }
        if (!response.ok) {
          const code = data.code ? String(data.code) : "error";
          const msg = data.message ? String(data.message) : response.statusText;
          throw new Error(response.status + " " + code + ": " + msg);
        }
        return data;
      }

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      function emptyRow(target, span, message) {
        const tr = document.createElement("tr");
        const td = document.createElement("td");
        td.colSpan = span;
        td.textContent = message;
        tr.appendChild(td);
        target.appendChild(tr);
      }

      function renderAreas(items) {
        dom.areaRows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          emptyRow(dom.areaRows, 4, "No areas registered");
          return;
        }
        items.slice(0, 40).forEach((area) => {
          const tr = document.createElement("tr");
          tr.innerHTML =
            "<td class=\"mono\">" + String(area.path || "-") + "</td>" +
            "<td>" + String(area.level || 0) + "</td>" +
            "<td class=\"mono\">" + String(area.xp || 0) + "</td>" +
            "<td class=\"mono\">" + String(area.totalXp || 0) + "</td>";
          dom.areaRows.appendChild(tr);
        });
      }

      function renderProjects(items) {
        dom.projectRows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          emptyRow(dom.projectRows, 4, "No projects scanned");
          return;
        }
        items.slice(0, 40).forEach((project) => {
          const done = Number(project.completed_tasks || 0);
          const total = Number(project.task_count || 0);
          const finished = total > 0 && done >= total;
          const tr = document.createElement("tr");
          tr.innerHTML =
            "<td>" + String(project.project || "-") + "</td>" +
            "<td class=\"mono\">" + done + "/" + total + "</td>" +
            "<td class=\"mono\">" + String(project.xp || 0) + "</td>" +
            "<td class=\"" + (finished ? "ok" : "warn") + "\">" + (finished ? "yes" : "no") + "</td>";
          dom.projectRows.appendChild(tr);
        });
      }

      function renderObjectives(items) {
        dom.objectiveRows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          emptyRow(dom.objectiveRows, 4, "No objectives parsed");
          return;
        }
        items.slice(0, 40).forEach((objective) => {
          const done = Number(objective.completed_krs || 0);
          const total = Number(objective.total_krs || 0);
          const areas = Array.isArray(objective.area_paths) ? objective.area_paths.join(", ") : "-";
          const tr = document.createElement("tr");
          tr.innerHTML =
            "<td>" + String(objective.title || "-") + "</td>" +
            "<td>" + String(objective.span || "-") + "</td>" +
            "<td class=\"" + (total > 0 && done >= total ? "ok" : "") + " mono\">" + done + "/" + total + "</td>" +
            "<td class=\"mono\">" + areas + "</td>";
          dom.objectiveRows.appendChild(tr);
        });
      }

      function renderHistory(items) {
        dom.historyRows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          emptyRow(dom.historyRows, 5, "No past seasons");
          return;
        }
        items.slice().reverse().slice(0, 20).forEach((season) => {
          const tr = document.createElement("tr");
          tr.innerHTML =
            "<td>" + String(season.name || "-") + "</td>" +
            "<td>" + String(season.final_level || 0) + "</td>" +
            "<td class=\"mono\">" + String(season.final_xp || 0) + "</td>" +
            "<td>" + String(season.final_tier || "-") + "</td>" +
            "<td>" + String(season.projects_completed || 0) + "</td>";
          dom.historyRows.appendChild(tr);
        });
      }

      function eventSeverity(kind) {
        if (kind === "xp_reversed") {
          return "critical";
        }
        if (kind === "xp_earned") {
          return "";
        }
        return "warning";
      }

      function renderEvents(items) {
        dom.eventFeed.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          const li = document.createElement("li");
          li.textContent = "No events yet";
          dom.eventFeed.appendChild(li);
          return;
        }
        items.slice().reverse().slice(0, 30).forEach((ev) => {
          const li = document.createElement("li");
          const severity = eventSeverity(String(ev.kind || ""));
          if (severity) {
            li.classList.add(severity);
          }
          const bits = ["#" + String(ev.seq || 0), String(ev.kind || "event")];
          if (ev.amount) {
            bits.push((ev.amount > 0 ? "+" : "") + ev.amount + " xp");
          }
          if (ev.level) {
            bits.push("level " + ev.level);
          }
          if (ev.tier) {
            bits.push("tier " + ev.tier);
          }
          if (ev.project) {
            bits.push("project " + ev.project);
          }
          if (ev.objective) {
            bits.push("objective " + ev.objective);
          }
          if (ev.season) {
            bits.push("season " + ev.season);
          }
          if (ev.doc) {
            bits.push(String(ev.doc));
          }
          li.textContent = bits.join(" | ");
          dom.eventFeed.appendChild(li);
        });
      }

      async function refresh() {
        setStatus("refreshing...", "warn");
        dom.topBar.classList.remove("pulse");
        void dom.topBar.offsetWidth;
        dom.topBar.classList.add("pulse");

        try {
          const [status, season, areas, projects, objectives, events] = await Promise.all([
            request("/v1/status"),
            request("/v1/season"),
            request("/v1/areas"),
            request("/v1/projects"),
            request("/v1/objectives"),
            request("/v1/events?limit=30"),
          ]);

          const current = season.season || null;
          dom.seasonName.textContent = current ? String(current.name || "-") : "no active season";
          dom.seasonLevel.textContent = current ? String(current.level || 0) : "-";
          dom.seasonXp.textContent = current ? String(current.xp || 0) : "-";
          dom.seasonTier.textContent = current && current.tier ? String(current.tier) : "-";
          dom.taskCounts.textContent = String(status.completedTasks || 0) + "/" + String(status.tasks || 0);
          dom.projectCounts.textContent = String(status.projects || 0);

          renderAreas(areas.items || []);
          renderProjects(projects.items || []);
          renderObjectives(objectives.items || []);
          renderHistory(season.history || []);
          renderEvents(events.items || []);

          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          window.localStorage.setItem("zortexd_dashboard_token", getToken());
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function ensureTimer() {
        if (store.timer) {
          clearInterval(store.timer);
          store.timer = null;
        }
        if (!store.paused) {
          store.timer = setInterval(refresh, store.intervalMs);
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.toggle.addEventListener("click", function () {
        store.paused = !store.paused;
        dom.toggle.textContent = store.paused ? "Resume Auto" : "Pause Auto";
        ensureTimer();
      });
      dom.token.addEventListener("change", refresh);

      dom.token.value = window.localStorage.getItem("zortexd_dashboard_token") || "";
      dom.apiBase.textContent = getBase();

      ensureTimer();
      refresh();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
