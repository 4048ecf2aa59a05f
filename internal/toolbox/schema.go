package toolbox

const calculatorSchema = `{
  "type": "object",
  "properties": {
    "expression": {
      "type": "string",
      "description": "Arithmetic expression using digits, + - * /, dot and parentheses"
    }
  },
  "required": ["expression"],
  "additionalProperties": false
}`
