package mission

// decompositionPrompt asks the coordinator model to split an instruction
// into independent specialist squads.
const decompositionPrompt = `You are the mission planner for a specialist team.
Break the instruction into independent squads that can run in parallel.

Principles:
- Every squad must be executable independently of its siblings.
- Minimize cross-squad dependencies.
- Give every squad concrete deliverables (file names to save).
- Assign the specialist whose craft fits the work.

Specialists (specialist values):
- "dev": software engineering, APIs, technical design, builds, data modeling
- "design": UI/UX, wireframes, style guides, front-end concepts
- "support": customer-facing analysis, FAQ, usability review, documentation
- "growth": marketing strategy, content, SEO, market and competitor analysis

Respond with JSON only, in exactly this shape:
{
  "squads": [
    {
      "specialist": "dev",
      "objective": "concrete objective",
      "context": "background and constraints",
      "deliverables": ["file1.md"],
      "priority": 1
    }
  ]
}

Rules:
- 2 to 4 squads. Never assign the same specialist twice.
- priority: 1 is highest.
- Do not assign roles unrelated to the instruction.
- JSON only, no prose.`

// subTaskPrompt asks a squad's specialist model to split its objective
// into sub-tasks with an executor each.
const subTaskPrompt = `You are a squad leader. Split the objective below into sub-tasks
and pick an executor for each:
- "self": handle it with your own tools (preferred for core work)
- "chatgpt": delegate to the ChatGPT CLI (code generation, generic tasks)
- "gemini-cli": delegate to the Gemini CLI (large-context analysis, research)

Respond with JSON only, in exactly this shape:
{
  "subTasks": [
    {"description": "concrete sub-task", "executor": "self"}
  ]
}

Rules:
- 1 to 4 sub-tasks. Core work runs as "self".
- Delegate only auxiliary research or generation work.
- If no external CLI is listed as available, use "self" everywhere.
- JSON only, no prose.`

// synthesisPrompt asks the coordinator model to merge squad reports into
// one final mission report.
const synthesisPrompt = `You are the mission planner. Merge the squad reports below into one
final report for the requester: what was accomplished, what failed, where the
deliverables live, and what should happen next. Be concise and concrete.`
