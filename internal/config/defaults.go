package config

// DefaultConfigYAML is written by `switchboard config init`. It documents
// the common settings; everything omitted keeps its built-in default.
const DefaultConfigYAML = `# Switchboard configuration
#
# Values not specified here use built-in defaults.
# Environment overrides use the SWITCHBOARD_ prefix, e.g.
# SWITCHBOARD_LOG_LEVEL=debug or SWITCHBOARD_PROVIDERS_OPENAI_API_KEY=...

log:
  level: info
  # auto, text or json
  format: auto

# Override built-in experts or add new ones.
# experts:
#   engineer:
#     model: claude-sonnet-4-5
#   local:
#     provider: ollama
#     model: qwen2.5-coder

# Experts tried, in order, when an expert is rate limited.
# fallback_chains:
#   engineer: [architect, debugger, local]

router:
  cache_size: 256
  cache_ttl: 10m
  default_retry_after: 60s
  retry:
    max_retries: 3
    base_delay: 1s
    max_delay: 30s
    jitter: 0.2

# Concurrency limits for background tasks.
background:
  default_limit: 3
  provider_limits:
    ollama: 1

workflow:
  max_attempts: 3
  workflow_timeout: 30m
  phase_timeout: 10m
  quick_phase_timeout: 30s
  retrieval_expert: explorer
  review_expert: reviewer

loop:
  max_iterations: 10
  delay: 2s
  completion_promise: DONE

# API keys are read from ANTHROPIC_API_KEY, OPENAI_API_KEY and
# GEMINI_API_KEY when not set here.
providers:
  ollama:
    base_url: http://localhost:11434

state:
  loop_path: .switchboard/loop.json
  history_db: .switchboard/history.db

hooks:
  disabled: []
  # commands:
  #   - name: audit
  #     command: ./scripts/audit-hook.sh
  #     kinds: [pre_tool_use]
  #     timeout: 10s

server:
  addr: 127.0.0.1:8420
`
